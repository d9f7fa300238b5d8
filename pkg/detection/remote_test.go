package detection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/teslashibe/go-lumina/internal/httpc"
	"github.com/teslashibe/go-lumina/pkg/capture"
)

func TestRemoteInfer(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(map[string]any{
			"predictions": []map[string]any{
				{"label": "cup", "confidence": 0.8, "x": 0.1, "y": 0.2, "w": 0.3, "h": 0.4},
			},
		})
	}))
	defer srv.Close()

	m := NewRemote(srv.URL, WithRemoteName("cloud"), WithAPIKey("secret"))
	if m.Name() != "cloud" {
		t.Errorf("Name() = %q, want cloud", m.Name())
	}

	f := &capture.Frame{Data: []byte{0xff, 0xd8, 0xff}, Format: capture.FormatJPEG, Seq: 12, Width: 640, Height: 480}
	preds, err := m.Infer(context.Background(), f)
	if err != nil {
		t.Fatalf("Infer() = %v", err)
	}
	if len(preds) != 1 || preds[0].Label != "cup" || preds[0].W != 0.3 {
		t.Errorf("predictions = %+v", preds)
	}
	if string(gotBody) != string(f.Data) {
		t.Error("frame bytes not sent as body")
	}
	if gotHeader.Get("Content-Type") != "image/jpeg" || gotHeader.Get("Authorization") != "Bearer secret" {
		t.Errorf("headers = %v", gotHeader)
	}
	if gotHeader.Get("X-Frame-Seq") != "12" {
		t.Errorf("X-Frame-Seq = %q, want 12", gotHeader.Get("X-Frame-Seq"))
	}
}

func TestRemoteMinConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"predictions":[{"label":"cup","confidence":0.9},{"label":"cat","confidence":0.2}]}`))
	}))
	defer srv.Close()

	f := &capture.Frame{Data: []byte{1}, Format: capture.FormatJPEG}
	preds, err := NewRemote(srv.URL, WithMinConfidence(0.5)).Infer(context.Background(), f)
	if err != nil {
		t.Fatalf("Infer() = %v", err)
	}
	if len(preds) != 1 || preds[0].Label != "cup" {
		t.Errorf("predictions = %+v, want only cup", preds)
	}

	all, err := NewRemote(srv.URL).Infer(context.Background(), f)
	if err != nil {
		t.Fatalf("Infer() = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d predictions without a threshold, want 2", len(all))
	}
}

func TestRemoteErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "http status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
			},
			check: func(t *testing.T, err error) {
				var se *httpc.StatusError
				if !errors.As(err, &se) || se.Status != http.StatusServiceUnavailable || se.Body != "overloaded" {
					t.Errorf("err = %v, want StatusError 503", err)
				}
			},
		},
		{
			name: "error field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"error":"no model loaded"}`))
			},
			check: func(t *testing.T, err error) {
				if err == nil || err.Error() != "detection: remote error: no model loaded" {
					t.Errorf("err = %v", err)
				}
			},
		},
		{
			name: "bad json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{`))
			},
			check: func(t *testing.T, err error) {
				if err == nil {
					t.Error("expected decode error")
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewRemote(srv.URL).Infer(context.Background(), &capture.Frame{Data: []byte{1}, Format: capture.FormatJPEG})
			tt.check(t, err)
		})
	}
}

func TestRemoteHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewRemote(srv.URL).Infer(ctx, &capture.Frame{Data: []byte{1}, Format: capture.FormatJPEG}); !errors.Is(err, context.Canceled) {
		t.Errorf("Infer() = %v, want context.Canceled", err)
	}
}
