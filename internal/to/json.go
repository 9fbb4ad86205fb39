// package to contains functions for converting between types.
package to

import (
	"net/http"

	"github.com/go-json-experiment/json"
)

// JSON writes the given object to the response body as indented JSON
// with a 200 status.
// If obj is a nil slice, an empty JSON array is written.
// If obj is a nil map, an empty JSON object is written.
func JSON(w http.ResponseWriter, obj any) error {
	return JSONStatus(w, http.StatusOK, obj)
}

// JSONStatus is like JSON but writes the supplied status code.
func JSONStatus(w http.ResponseWriter, code int, obj any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	return json.MarshalOptions{}.MarshalFull(json.EncodeOptions{
		Indent: "  ",
	}, w, obj)
}
