package gateway

import (
	"encoding/json"
	"testing"
)

func TestValidateMethodParamsRejectsMissingConnectFields(t *testing.T) {
	err := validateMethodParams("connect", json.RawMessage(`{"minProtocol":1}`))
	if err == nil {
		t.Fatal("want error for connect params missing maxProtocol and client")
	}
}

func TestValidateMethodParamsAcceptsWellFormedConnect(t *testing.T) {
	params := json.RawMessage(`{"minProtocol":1,"maxProtocol":1,"client":{"id":"a","version":"1","platform":"cli"}}`)
	if err := validateMethodParams("connect", params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateMethodParamsRejectsEmptyChatSendContent(t *testing.T) {
	err := validateMethodParams("chat.send", json.RawMessage(`{"content":""}`))
	if err == nil {
		t.Fatal("want error for empty chat.send content")
	}
}

func TestValidateMethodParamsIgnoresUnknownMethod(t *testing.T) {
	if err := validateMethodParams("ping", nil); err != nil {
		t.Fatalf("unexpected error for a method with no registered schema: %v", err)
	}
}
