package multichain

import "github.com/wehubfusion/Daedalus/internal/schema"

const modelSchema = `{
  "type": "object",
  "required": ["id", "chain_variant_paths"],
  "properties": {
    "app": {"const": "multi-chain"},
    "version": {"type": "string"},
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "category": {"type": "string"},
    "description": {"type": "string"},
    "settings_id": {"type": "string", "minLength": 1},
    "chain_variant_paths": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
    "default_variant_id": {"type": "string"},
    "in_ports": {"type": "array", "items": {"$ref": "#/$defs/port"}},
    "out_ports": {"type": "array", "items": {"$ref": "#/$defs/port"}},
    "controls": {"type": "array", "items": {"type": "object", "required": ["name", "value_type"]}},
    "options": {
      "type": "object",
      "properties": {
        "behavior": {"type": "object", "properties": {"skippable": {"type": "boolean"}}}
      }
    }
  },
  "$defs": {
    "port": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "value_type": {"type": "string"}
      }
    }
  }
}`

var modelValidator = schema.MustCompile("multichain.schema.json", modelSchema)
