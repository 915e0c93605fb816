package viewcache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"
)

const (
	// FlushParam is the reserved query parameter that forces a refresh.
	// It never takes part in key derivation.
	FlushParam = "flush"

	// UnknownHost stands in for requests without a Host header.
	UnknownHost = "unknown"
)

// KeyInput holds the request attributes a view cache key is derived from.
type KeyInput struct {
	// Method is the HTTP method; only GET is accepted.
	Method string

	// Host is the Host header (default: "unknown").
	Host string

	// BasePath is the path the cached routes are mounted under.
	BasePath string

	// Route is the route template, e.g. "/users/:id". It must be the
	// declared template, not the interpolated path.
	Route string

	// Path is the resolved request path, e.g. "/users/42".
	Path string

	// Query holds the request query parameters. DeriveKey removes
	// FlushParam from it.
	Query url.Values

	// Identity is an optional caller identity value.
	Identity any
}

// Payload is the value hashed into the key suffix.
type Payload struct {
	Method   string         `json:"method"`
	BasePath string         `json:"basePath"`
	Query    map[string]any `json:"query"`
	Identity any            `json:"identity"`
}

// HashStrategy projects the payload down to the value that is hashed,
// e.g. to drop pagination noise.
type HashStrategy interface {
	Project(p Payload) any
}

// HashStrategyFunc adapts a function to HashStrategy.
type HashStrategyFunc func(p Payload) any

// Project calls f(p).
func (f HashStrategyFunc) Project(p Payload) any { return f(p) }

// IdentityStrategy hashes the payload as is.
var IdentityStrategy HashStrategy = HashStrategyFunc(func(p Payload) any { return p })

// DeriveKey builds the cache key for in:
//
//	{method}/{host}{basePath}{route}:{md5(json(strategy(payload)))}
//
// The prefix is lowercased and colons in it become underscores, so
// "/users/:id" requests share the prefix ".../users/_id" and differ only
// by the digest. A nil strategy means IdentityStrategy.
func DeriveKey(in KeyInput, strategy HashStrategy) (string, error) {
	if in.Method != http.MethodGet {
		return "", &ConfigError{Op: "derive key", Detail: "method " + in.Method, Err: ErrMethodNotCacheable}
	}
	if in.Route == "" {
		return "", &ConfigError{Op: "derive key", Detail: "path " + in.Path, Err: ErrRouteNotBound}
	}
	if strategy == nil {
		strategy = IdentityStrategy
	} else if !callable(strategy) {
		return "", &ConfigError{Op: "derive key", Detail: fmt.Sprintf("%T", strategy), Err: ErrInvalidHashStrategy}
	}

	host := in.Host
	if host == "" {
		host = UnknownHost
	}

	if in.Query != nil {
		in.Query.Del(FlushParam)
	}

	payload := Payload{
		Method:   in.Method,
		BasePath: in.Path,
		Query:    queryObject(in.Query),
		Identity: in.Identity,
	}

	digest, err := hashValue(strategy.Project(payload))
	if err != nil {
		return "", fmt.Errorf("hash key payload: %w", err)
	}

	prefix := in.Method + "/" + host + in.BasePath + in.Route
	prefix = strings.ToLower(strings.ReplaceAll(prefix, ":", "_"))

	return prefix + ":" + digest, nil
}

// hashValue returns the hex MD5 of v's JSON encoding. encoding/json sorts
// map keys, which keeps the digest independent of map iteration order.
func hashValue(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// queryObject flattens url.Values: single values become strings, repeated
// parameters stay lists. The result is never nil.
func queryObject(q url.Values) map[string]any {
	out := make(map[string]any, len(q))
	for k, vs := range q {
		switch len(vs) {
		case 0:
			out[k] = ""
		case 1:
			out[k] = vs[0]
		default:
			out[k] = append([]string(nil), vs...)
		}
	}
	return out
}

// callable reports whether s can be invoked. A nil func or pointer stored
// in the interface is not.
func callable(s HashStrategy) bool {
	v := reflect.ValueOf(s)
	switch v.Kind() {
	case reflect.Func, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan:
		return !v.IsNil()
	default:
		return true
	}
}
