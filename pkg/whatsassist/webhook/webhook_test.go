package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
)

type echoResponder struct {
	from, body string
	panicMsg   string
}

func (e *echoResponder) Handle(_ context.Context, from, body string) string {
	if e.panicMsg != "" {
		panic(e.panicMsg)
	}
	e.from, e.body = from, body
	return "echo: " + body
}

type fixedStats int

func (f fixedStats) Len() int { return int(f) }

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// sign computes Twilio's X-Twilio-Signature for a form POST.
func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestHandleMessage_TwiML(t *testing.T) {
	resp := &echoResponder{}
	h := New(Config{}, resp, nil, nil).Handler()

	for _, path := range []string{"/whatsapp", "/"} {
		form := url.Values{"From": {"whatsapp:+15550001"}, "Body": {"remind me at 7pm to call mom"}}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, postForm("http://example.com"+path, form))

		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
			t.Errorf("%s: unexpected content type %q", path, ct)
		}
		body := rec.Body.String()
		if !strings.Contains(body, "<Response>") || !strings.Contains(body, "echo: remind me at 7pm to call mom") {
			t.Errorf("%s: unexpected TwiML %q", path, body)
		}
		if resp.from != "whatsapp:+15550001" {
			t.Errorf("%s: responder got from %q", path, resp.from)
		}
	}
}

func TestHandleMessage_MissingFrom(t *testing.T) {
	h := New(Config{}, &echoResponder{}, nil, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postForm("http://example.com/whatsapp", url.Values{"Body": {"hi"}}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleMessage_Signature(t *testing.T) {
	const token = "12345"
	form := url.Values{"From": {"whatsapp:+15550001"}, "Body": {"hello"}}

	t.Run("valid", func(t *testing.T) {
		h := New(Config{AuthToken: token, RejectInvalidSignature: true}, &echoResponder{}, nil, nil).Handler()
		req := postForm("http://example.com/whatsapp", form)
		req.Header.Set("X-Twilio-Signature", sign(token, "http://example.com/whatsapp", form))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("forwarded", func(t *testing.T) {
		h := New(Config{AuthToken: token, RejectInvalidSignature: true}, &echoResponder{}, nil, nil).Handler()
		req := postForm("http://internal:8081/whatsapp", form)
		req.Header.Set("X-Forwarded-Proto", "https")
		req.Header.Set("X-Forwarded-Host", "bot.example.com")
		req.Header.Set("X-Twilio-Signature", sign(token, "https://bot.example.com/whatsapp", form))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200 behind proxy, got %d", rec.Code)
		}
	})

	t.Run("invalid rejected", func(t *testing.T) {
		resp := &echoResponder{}
		h := New(Config{AuthToken: token, RejectInvalidSignature: true}, resp, nil, nil).Handler()
		req := postForm("http://example.com/whatsapp", form)
		req.Header.Set("X-Twilio-Signature", "bogus")

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
		if resp.from != "" {
			t.Error("responder must not run for rejected requests")
		}
	})

	t.Run("invalid tolerated", func(t *testing.T) {
		h := New(Config{AuthToken: token}, &echoResponder{}, nil, nil).Handler()
		req := postForm("http://example.com/whatsapp", form)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200 when not enforcing, got %d", rec.Code)
		}
	})
}

func TestHandleMessage_PanicBecomesApology(t *testing.T) {
	h := New(Config{}, &echoResponder{panicMsg: "boom"}, nil, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postForm("http://example.com/whatsapp", url.Values{"From": {"u"}, "Body": {"x"}}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Sorry, I encountered an error") {
		t.Errorf("expected apology, got %q", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	h := New(Config{}, &echoResponder{}, fixedStats(3), nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.Status != "ok" || got.Armed != 3 {
		t.Errorf("unexpected health %+v", got)
	}
}

func TestStartShutdown(t *testing.T) {
	s := New(Config{Address: "127.0.0.1:0"}, &echoResponder{}, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
