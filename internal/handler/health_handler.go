package handler

import "net/http"

type healthResponse struct {
	Status string `json:"status"`
}

// Health はプロセスが応答可能であることを返す。リモートサービスの状態は確認しない。
// GET /api/health
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
