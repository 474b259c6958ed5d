package api

import "net/http"

func queryIntOrWriteInvalid(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	n, err := QueryInt(r, key, def)
	if err != nil {
		writeInvalidArgument(w, err.Error())
		return 0, false
	}
	return n, true
}

func queryBoolOrWriteInvalid(w http.ResponseWriter, r *http.Request, key string, def bool) (bool, bool) {
	b, err := QueryBool(r, key, def)
	if err != nil {
		writeInvalidArgument(w, err.Error())
		return false, false
	}
	return b, true
}

func decodeBodyOrWriteInvalid(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := DecodeBody(r, v); err != nil {
		writeDecodeBodyError(w, err)
		return false
	}
	return true
}
