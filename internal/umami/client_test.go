package umami

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	from = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to   = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
)

func TestClient_Stats(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Stats
	}{
		{
			name: "формат v2 со значениями и предыдущим периодом",
			body: `{"pageviews":{"value":120,"prev":100},"visitors":{"value":40,"prev":30},"visits":{"value":50},"bounces":{"value":10},"totaltime":{"value":3600}}`,
			want: Stats{Pageviews: 120, Visitors: 40, Visits: 50, Bounces: 10, TotalTime: 3600},
		},
		{
			name: "плоский формат",
			body: `{"pageviews":7,"visitors":3,"visits":4,"bounces":1,"totaltime":60}`,
			want: Stats{Pageviews: 7, Visitors: 3, Visits: 4, Bounces: 1, TotalTime: 60},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/websites/site-1/stats" {
					t.Errorf("путь = %s", r.URL.Path)
				}
				if r.Header.Get("Authorization") != "Bearer tok" {
					t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
				}
				if r.URL.Query().Get("startAt") != "1704067200000" {
					t.Errorf("startAt = %s", r.URL.Query().Get("startAt"))
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(srv.URL, "tok", time.Second, testLogger())
			got, ok := c.Stats(context.Background(), "site-1", from, to)
			if !ok {
				t.Fatal("Stats() = false, ожидались данные")
			}
			if *got != tt.want {
				t.Errorf("Stats() = %+v, хотели %+v", *got, tt.want)
			}
		})
	}
}

func TestClient_StatsFailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"статус 500", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"невалидный JSON", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"pageviews":`))
		}},
		{"таймаут", func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(300 * time.Millisecond)
			_, _ = w.Write([]byte(`{"pageviews":1}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := New(srv.URL, "tok", 100*time.Millisecond, testLogger())
			if got, ok := c.Stats(context.Background(), "site-1", from, to); ok || got != nil {
				t.Errorf("Stats() = %+v, %v, хотели nil, false", got, ok)
			}
		})
	}
}

func TestClient_StatsCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"pageviews":1}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", time.Second, testLogger())
	for range 3 {
		if _, ok := c.Stats(context.Background(), "site-1", from, to); !ok {
			t.Fatal("Stats() = false")
		}
	}
	if calls.Load() != 1 {
		t.Errorf("запросов к Umami = %d, хотели 1", calls.Load())
	}

	// Другой период — другой ключ
	c.Stats(context.Background(), "site-1", from, to.Add(24*time.Hour))
	if calls.Load() != 2 {
		t.Errorf("запросов к Umami = %d, хотели 2", calls.Load())
	}
}

func TestClient_StatsCachedSlidingWindow(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"pageviews":1}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", time.Second, testLogger())
	end := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	// Окно «последние 30 дней», запрошенное с интервалом в минуту
	for m := range 4 {
		to := end.Add(time.Duration(m) * time.Minute)
		if _, ok := c.Stats(context.Background(), "site-1", to.AddDate(0, 0, -30), to); !ok {
			t.Fatal("Stats() = false")
		}
	}
	if calls.Load() != 1 {
		t.Errorf("запросов к Umami = %d, хотели 1", calls.Load())
	}

	// Окно другой длины с тем же концом
	c.Stats(context.Background(), "site-1", end.AddDate(0, 0, -7), end)
	if calls.Load() != 2 {
		t.Errorf("запросов к Umami = %d, хотели 2", calls.Load())
	}
}

func TestCacheKey(t *testing.T) {
	end := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	a := cacheKey("site-1", end.AddDate(0, 0, -30), end)
	b := cacheKey("site-1", end.Add(4*time.Minute).AddDate(0, 0, -30), end.Add(4*time.Minute))
	c := cacheKey("site-1", end.Add(5*time.Minute).AddDate(0, 0, -30), end.Add(5*time.Minute))
	if a != b {
		t.Errorf("ключи в одном интервале различаются: %s и %s", a, b)
	}
	if a == c {
		t.Errorf("ключ следующего интервала совпал: %s", c)
	}
}
