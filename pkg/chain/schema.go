package chain

import "github.com/wehubfusion/Daedalus/internal/schema"

const modelSchema = `{
  "type": "object",
  "required": ["id"],
  "properties": {
    "app": {"const": "chain"},
    "version": {"type": "string"},
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "category": {"type": "string"},
    "description": {"type": "string"},
    "main_settings": {"type": "object"},
    "main_settings_path": {"type": "string", "minLength": 1},
    "includes": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "in_ports": {"type": "array", "items": {"$ref": "#/$defs/port"}},
    "out_ports": {"type": "array", "items": {"$ref": "#/$defs/port"}},
    "blocks": {"type": "array", "items": {"$ref": "#/$defs/block"}}
  },
  "not": {"required": ["main_settings", "main_settings_path"]},
  "$defs": {
    "port": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "value_type": {"type": "string"}
      }
    },
    "block": {
      "type": "object",
      "required": ["id", "executor_id"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "executor_id": {"type": "string", "minLength": 1},
        "name": {"type": "string"},
        "parameters": {"type": "object"}
      }
    }
  }
}`

var modelValidator = schema.MustCompile("chain.schema.json", modelSchema)
