package settings

import "github.com/wehubfusion/Daedalus/internal/schema"

const specificationSchema = `{
  "type": "object",
  "required": ["id"],
  "properties": {
    "app": {"type": "string", "enum": ["settings", "main-settings", "mapping"]},
    "version": {"type": "string"},
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "category": {"type": "string"},
    "description": {"type": "string"},
    "tags": {"type": "array", "items": {"type": "string"}},
    "split_id": {"type": "string"},
    "get_names_id": {"type": "string"},
    "controls": {"type": "array", "items": {"$ref": "#/$defs/control"}},
    "keys": {"type": "array", "items": {"type": ["string", "integer"]}},
    "keys_file": {"type": "string"},
    "ignored_keys": {"type": "array", "items": {"type": ["string", "integer"]}},
    "enum_items": {
      "type": "array",
      "items": {
        "anyOf": [
          {"type": ["string", "number"]},
          {"type": "object", "required": ["value"], "properties": {"value": {"type": "string"}, "caption": {"type": "string"}}}
        ]
      }
    },
    "enum_items_file": {"type": "string"},
    "control_template": {"type": "object"}
  },
  "$defs": {
    "control": {
      "type": "object",
      "required": ["name", "value_type"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "caption": {"type": "string"},
        "description": {"type": "string"},
        "value_type": {"type": "string"},
        "edition_type": {"type": "string"},
        "advanced": {"type": "boolean"},
        "multiline": {"type": "boolean"},
        "items": {"type": "array"},
        "group_id": {"type": "string"},
        "builder_id": {"type": "string"}
      }
    }
  }
}`

var specificationValidator = schema.MustCompile("settings.schema.json", specificationSchema)
