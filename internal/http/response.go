package httpapi

import (
	"encoding/json"
	"net/http"
)

// Response 统一响应信封
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Ok 成功响应
func Ok(data interface{}) Response {
	return Response{Code: 0, Message: "success", Data: data}
}

// Err 失败响应
func Err(code int, message string) Response {
	return Response{Code: code, Message: message}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
