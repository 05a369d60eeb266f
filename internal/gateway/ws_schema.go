package gateway

import (
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// wsSchemas holds the compiled jsonschema validators for every WS method's
// params object, compiled once on first use. Grounded on
// internal/gateway/ws_schema.go's wsSchemaRegistry/initWSSchemas, reduced
// to the two methods this gateway actually accepts params for.
type wsSchemaRegistry struct {
	once    sync.Once
	initErr error
	methods map[string]*jsonschema.Schema
}

var wsSchemas wsSchemaRegistry

func initWSSchemas() error {
	wsSchemas.once.Do(func() {
		methods := map[string]string{
			"connect":   wsConnectParamsSchema,
			"chat.send": wsChatSendParamsSchema,
		}
		wsSchemas.methods = make(map[string]*jsonschema.Schema, len(methods))
		for name, schema := range methods {
			compiled, err := jsonschema.CompileString("ws_method_"+name, schema)
			if err != nil {
				wsSchemas.initErr = err
				return
			}
			wsSchemas.methods[name] = compiled
		}
	})
	return wsSchemas.initErr
}

// validateMethodParams validates frame.Params against the schema registered
// for method, if any. Methods with no registered schema (e.g. "ping") pass
// through unvalidated.
func validateMethodParams(method string, params json.RawMessage) error {
	if err := initWSSchemas(); err != nil {
		return err
	}
	schema, ok := wsSchemas.methods[method]
	if !ok {
		return nil
	}
	var payload any
	if len(params) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(params, &payload); err != nil {
		return err
	}
	return schema.Validate(payload)
}

const wsConnectParamsSchema = `{
  "type": "object",
  "required": ["minProtocol", "maxProtocol", "client"],
  "properties": {
    "minProtocol": { "type": "integer", "minimum": 1 },
    "maxProtocol": { "type": "integer", "minimum": 1 },
    "client": {
      "type": "object",
      "required": ["id", "version", "platform"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "version": { "type": "string", "minLength": 1 },
        "platform": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": true
    },
    "auth": {
      "type": "object",
      "properties": { "token": { "type": "string" } },
      "additionalProperties": true
    }
  },
  "additionalProperties": true
}`

const wsChatSendParamsSchema = `{
  "type": "object",
  "required": ["content"],
  "properties": {
    "sessionId": { "type": "string" },
    "content": { "type": "string", "minLength": 1 },
    "model": { "type": "string" }
  },
  "additionalProperties": true
}`
