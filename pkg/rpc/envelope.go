package rpc

import (
	"errors"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Backend parameter names carry the fixed "_" marker. The three credential
// names are reserved; caller supplied keys never collide with them by
// contract.
const (
	ParamSecret        = "_secret"
	ParamApplicationId = "_application_id"
	ParamKey           = "_key"

	ParamMessage      = "_message"
	ParamUserId       = "_userid"
	ParamAmount       = "_amount"
	ParamToken        = "_token"
	ParamServiceId    = "_service_id"
	ParamJobConfig    = "_job_config"
	ParamWorkerFilter = "_worker_filter"
	ParamLimit        = "_limit"
	ParamOffset       = "_offset"
)

// Params is the parameter bag of one call. Values are restricted to the
// structpb domain: string, number, bool, nil, or nested map/list.
type Params map[string]interface{}

// RemoteError is a backend supplied failure, propagated verbatim. The client
// performs no classification or retry.
type RemoteError struct {
	Procedure string
	Message   string
}

func (e *RemoteError) Error() string {
	return "rpc: " + e.Procedure + ": " + e.Message
}

// EncodeRequest builds the binary request envelope, a protobuf Struct with
// the procedure name and the parameter bag.
func EncodeRequest(procedure string, params Params) ([]byte, error) {
	if params == nil {
		params = Params{}
	}
	st, err := structpb.NewStruct(map[string]interface{}{
		"procedure": procedure,
		"params":    map[string]interface{}(params),
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

// DecodeRequest is the backend side of EncodeRequest.
func DecodeRequest(body []byte) (string, Params, error) {
	st := &structpb.Struct{}
	err := proto.Unmarshal(body, st)
	if err != nil {
		return "", nil, err
	}
	m := st.AsMap()
	procedure, ok := m["procedure"].(string)
	if !ok || procedure == "" {
		return "", nil, errors.New("rpc: request has no procedure")
	}
	params, ok := m["params"].(map[string]interface{})
	if !ok {
		params = map[string]interface{}{}
	}
	return procedure, Params(params), nil
}

// EncodeResult builds a response envelope carrying data.
func EncodeResult(value interface{}) ([]byte, error) {
	st, err := structpb.NewStruct(map[string]interface{}{"data": value})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

// EncodeError builds a response envelope carrying a backend error.
func EncodeError(message string) ([]byte, error) {
	st, err := structpb.NewStruct(map[string]interface{}{"error": message})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

// DecodeResult unpacks a response envelope. Exactly one of data and error is
// set; an error envelope comes back as a RemoteError.
func DecodeResult(procedure string, body []byte) (interface{}, error) {
	st := &structpb.Struct{}
	err := proto.Unmarshal(body, st)
	if err != nil {
		return nil, err
	}
	m := st.AsMap()
	if msg, ok := m["error"].(string); ok && msg != "" {
		return nil, &RemoteError{Procedure: procedure, Message: msg}
	}
	return m["data"], nil
}
