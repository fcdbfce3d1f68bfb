package chainrpc

import (
	"encoding/json"
	"fmt"
	"strings"
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError is a JSON-RPC 2.0 error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// EventID is the feed position of one event; the ingestor persists it as the cursor.
type EventID struct {
	TxDigest string `json:"txDigest"`
	EventSeq string `json:"eventSeq"`
}

type Event struct {
	ID                EventID         `json:"id"`
	PackageID         string          `json:"packageId"`
	TransactionModule string          `json:"transactionModule"`
	Sender            string          `json:"sender"`
	Type              string          `json:"type"`
	ParsedJSON        json.RawMessage `json:"parsedJson"`
	TimestampMs       string          `json:"timestampMs"`
}

// Key identifies the event across re-deliveries.
func (e Event) Key() string {
	return e.ID.TxDigest + ":" + e.ID.EventSeq
}

type EventPage struct {
	Data        []Event  `json:"data"`
	NextCursor  *EventID `json:"nextCursor"`
	HasNextPage bool     `json:"hasNextPage"`
}

type CollateralObject struct {
	ObjectID string `json:"objectId"`
	Version  string `json:"version"`
	Digest   string `json:"digest"`
	Type     string `json:"type"`
}

type ownedObjectsPage struct {
	Data []struct {
		Data *CollateralObject `json:"data"`
	} `json:"data"`
	NextCursor  *string `json:"nextCursor"`
	HasNextPage bool    `json:"hasNextPage"`
}

type moveCallResult struct {
	TxBytes string `json:"txBytes"`
}

type objectChange struct {
	Type       string `json:"type"`
	ObjectType string `json:"objectType"`
	ObjectID   string `json:"objectId"`
}

type executeResult struct {
	Digest  string `json:"digest"`
	Effects struct {
		Status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"status"`
	} `json:"effects"`
	ObjectChanges []objectChange `json:"objectChanges"`
}

// TxResult is an executed chain transaction.
type TxResult struct {
	Digest             string
	CreatedObjects     []string
	CollateralObjectID string
}

// EncodeCursor turns a feed position into the opaque string stored in cursor_states.
func EncodeCursor(id *EventID) string {
	if id == nil {
		return ""
	}
	b, _ := json.Marshal(id)
	return string(b)
}

func DecodeCursor(s string) (*EventID, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var id EventID
	if err := json.Unmarshal([]byte(s), &id); err != nil {
		return nil, fmt.Errorf("invalid cursor %q: %w", s, err)
	}
	if id.TxDigest == "" {
		return nil, fmt.Errorf("invalid cursor %q: missing txDigest", s)
	}
	return &id, nil
}
