package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/mailglot/horosafe"
	"github.com/hazyhaar/mailglot/lang"
)

// DefaultGoogleBaseURL is the Cloud Translation v2 REST endpoint.
const DefaultGoogleBaseURL = "https://translation.googleapis.com/language/translate/v2"

const maxGoogleResponse int64 = 16 << 20

// Google calls the Cloud Translation v2 API with an API key.
type Google struct {
	BaseURL string
	HTTP    *http.Client
}

// NewGoogle returns a client for baseURL (DefaultGoogleBaseURL when
// empty).
func NewGoogle(baseURL string, timeout time.Duration) *Google {
	if baseURL == "" {
		baseURL = DefaultGoogleBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Google{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{Timeout: timeout}}
}

type googleTranslateBody struct {
	Q      []string `json:"q"`
	Target string   `json:"target"`
	Source string   `json:"source,omitempty"`
	Format string   `json:"format"`
}

type googleEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Translate translates text. format is "html" or "text". It returns the
// translation and the source language Google detected when source was
// empty.
func (g *Google) Translate(ctx context.Context, key, text, source, target, format string) (string, string, error) {
	var data struct {
		Translations []struct {
			TranslatedText         string `json:"translatedText"`
			DetectedSourceLanguage string `json:"detectedSourceLanguage"`
		} `json:"translations"`
	}
	body := googleTranslateBody{Q: []string{text}, Target: target, Format: format}
	if source != lang.Unknown {
		body.Source = source
	}
	if err := g.post(ctx, "translate", "", key, body, &data); err != nil {
		return "", "", err
	}
	if len(data.Translations) == 0 {
		return "", "", &ServiceError{Service: "translate", Message: "empty response"}
	}
	t := data.Translations[0]
	return t.TranslatedText, t.DetectedSourceLanguage, nil
}

// Detect returns the language of text, or lang.Unknown.
func (g *Google) Detect(ctx context.Context, key, text string) (string, error) {
	var data struct {
		Detections [][]struct {
			Language   string  `json:"language"`
			Confidence float64 `json:"confidence"`
		} `json:"detections"`
	}
	if err := g.post(ctx, "detect", "/detect", key, map[string][]string{"q": {text}}, &data); err != nil {
		return "", err
	}
	if len(data.Detections) == 0 || len(data.Detections[0]) == 0 {
		return lang.Unknown, nil
	}
	tag := data.Detections[0][0].Language
	if tag == "" {
		return lang.Unknown, nil
	}
	return tag, nil
}

func (g *Google) post(ctx context.Context, service, path, key string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("remote: %s: encode: %w", service, err)
	}
	u := g.BaseURL + path + "?key=" + url.QueryEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("remote: %s: create request: %w", service, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.HTTP.Do(req)
	if err != nil {
		// url.Error embeds the URL, and with it the key.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return &ServiceError{Service: service, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := horosafe.LimitedReadAll(resp.Body, maxGoogleResponse)
	if err != nil {
		return fmt.Errorf("remote: %s: read response: %w", service, err)
	}
	var env googleEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &ServiceError{Service: service, Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("remote: %s: decode response: %w", service, err)
	}
	if env.Error != nil || resp.StatusCode >= 300 {
		se := &ServiceError{Service: service, Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if env.Error != nil && env.Error.Message != "" {
			se.Message = env.Error.Message
		}
		return se
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("remote: %s: decode data: %w", service, err)
	}
	return nil
}
