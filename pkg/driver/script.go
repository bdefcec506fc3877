package driver

import (
	"encoding/json"
	"fmt"
)

// WrapScript turns a function body into an expression evaluating to a JSON
// envelope {"value": <result>} so every backend returns results the same way.
func WrapScript(src string, args []interface{}) (string, error) {
	encoded, err := encodeArgs(args)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(function(){
var __r = (function(){%s
}).apply(window, %s);
return JSON.stringify({value: __r === undefined ? null : __r});
})()`, src, encoded), nil
}

// WrapAsyncScript wraps a body that reports its result through a callback
// appended to its arguments. The expression evaluates to a Promise.
func WrapAsyncScript(src string, args []interface{}) (string, error) {
	encoded, err := encodeArgs(args)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`new Promise(function(__resolve, __reject){
var __args = %s;
__args.push(function(r){ __resolve(JSON.stringify({value: r === undefined ? null : r})); });
try {
(function(){%s
}).apply(window, __args);
} catch (e) { __reject(e); }
})`, encoded, src), nil
}

func encodeArgs(args []interface{}) (string, error) {
	if args == nil {
		args = []interface{}{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode script args: %w", err)
	}
	return string(b), nil
}

// DecodeResult unpacks the envelope produced by a wrapped script.
func DecodeResult(raw string) (interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	var envelope struct {
		Value interface{} `json:"value"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("decode script result: %w", err)
	}
	return envelope.Value, nil
}

// Truthy reports whether a script result is JavaScript-truthy for the
// simple values wrapped scripts return.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}
