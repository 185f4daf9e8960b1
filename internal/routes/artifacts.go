package routes

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"snapshot-capture/internal/myhttp"
	"snapshot-capture/internal/storage"
)

type ArtifactResponse struct {
	Key   string `json:"key"`
	Image string `json:"image"`
}

// GetArtifact returns a stored screenshot, baseline or diff image.
func GetArtifact(storageClient storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")

		data, err := storageClient.Get(r.Context(), key)
		if err != nil {
			if errors.Is(err, storage.ErrInvalidKey) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if errors.Is(err, storage.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			myhttp.Logger(r.Context()).Error(fmt.Sprintf("failed to get artifact: %s", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(ArtifactResponse{
			Key:   key,
			Image: base64.StdEncoding.EncodeToString(data),
		}); err != nil {
			myhttp.Logger(r.Context()).Error(fmt.Sprintf("failed to encode response: %s", err))
		}
	}
}
