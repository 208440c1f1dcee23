package recraft

import (
	"bytes"
	"errors"
	"mime/multipart"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
)

func TestResolveRoute(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		path         string
		operation    ledger.Operation
		upstreamPath string
	}{
		{path: "/generations", operation: ledger.OperationRasterGeneration, upstreamPath: "/images/generations"},
		{path: "/vectorize", operation: ledger.OperationVectorization, upstreamPath: "/images/vectorize"},
		{path: "/remove-background", operation: ledger.OperationBackgroundRemoval, upstreamPath: "/images/removeBackground"},
		{path: "/upscale", operation: ledger.OperationClarityUpscale, upstreamPath: "/images/clarityUpscale"},
		{path: "/generative-upscale", operation: ledger.OperationGenerativeUpscale, upstreamPath: "/images/generativeUpscale"},
		{path: "/styles", operation: ledger.OperationStyleCreation, upstreamPath: "/styles"},
	}
	for _, testCase := range testCases {
		route, err := ResolveRoute(testCase.path)
		if err != nil {
			test.Fatalf("%s: %v", testCase.path, err)
		}
		if route.Operation != testCase.operation || route.UpstreamPath != testCase.upstreamPath {
			test.Fatalf("%s: unexpected route %+v", testCase.path, route)
		}
	}
	if _, err := ResolveRoute("/images/delete"); !errors.Is(err, ErrUnknownRoute) {
		test.Fatalf("expected ErrUnknownRoute, got %v", err)
	}
}

func TestPriceForVectorIllustration(test *testing.T) {
	test.Parallel()
	generations, _ := ResolveRoute("generations")
	if got := generations.PriceFor("vector_illustration"); got != ledger.OperationVectorIllustration {
		test.Fatalf("expected vector_illustration, got %s", got)
	}
	if got := generations.PriceFor("realistic_image"); got != ledger.OperationRasterGeneration {
		test.Fatalf("expected raster_generation, got %s", got)
	}
	vectorize, _ := ResolveRoute("vectorize")
	if got := vectorize.PriceFor("vector_illustration"); got != ledger.OperationVectorization {
		test.Fatalf("override must only apply to generations, got %s", got)
	}
}

func TestRequestStyle(test *testing.T) {
	test.Parallel()
	style, err := RequestStyle("application/json", []byte(`{"prompt":"cat","style":"vector_illustration"}`))
	if err != nil || style != "vector_illustration" {
		test.Fatalf("unexpected JSON style %q (%v)", style, err)
	}
	if style, err := RequestStyle("", nil); err != nil || style != "" {
		test.Fatalf("expected empty style for empty body, got %q (%v)", style, err)
	}
	for _, body := range []string{`["vector_illustration"]`, `"vector_illustration"`, `42`, `null`} {
		if style, err := RequestStyle("application/json", []byte(body)); err != nil || style != "" {
			test.Fatalf("non-object body %s should be forwarded without a style, got %q %v", body, style, err)
		}
	}
	if _, err := RequestStyle("application/json", []byte(`{"prompt":`)); !errors.Is(err, ErrMalformedBody) {
		test.Fatalf("expected ErrMalformedBody, got %v", err)
	}

	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)
	fileWriter, _ := writer.CreateFormFile("file", "cat.png")
	_, _ = fileWriter.Write([]byte("png-bytes"))
	_ = writer.WriteField("style", "vector_illustration")
	_ = writer.Close()
	style, err = RequestStyle(writer.FormDataContentType(), buffer.Bytes())
	if err != nil || style != "vector_illustration" {
		test.Fatalf("unexpected multipart style %q (%v)", style, err)
	}
	if _, err := RequestStyle("multipart/form-data", buffer.Bytes()); !errors.Is(err, ErrMalformedBody) {
		test.Fatalf("expected missing boundary to fail, got %v", err)
	}
}

func TestNormalize(test *testing.T) {
	test.Parallel()
	now := time.Unix(1_700_000_000, 0)
	testCases := []struct {
		name    string
		body    string
		urls    []any
		created any
	}{
		{name: "already normalized", body: `{"data":[{"url":"https://a"}],"created":42}`, urls: []any{"https://a"}, created: float64(42)},
		{name: "already normalized without created", body: `{"data":[{"url":"https://a"}]}`, urls: []any{"https://a"}, created: now.Unix()},
		{name: "bare url string", body: `"https://img/1.png"`, urls: []any{"https://img/1.png"}, created: now.Unix()},
		{name: "bare url text", body: `https://img/2.png`, urls: []any{"https://img/2.png"}, created: now.Unix()},
		{name: "image object", body: `{"image":{"url":"https://b"},"created":7}`, urls: []any{"https://b"}, created: float64(7)},
		{name: "images array", body: `{"images":[{"url":"https://c"},{"url":"https://d"}]}`, urls: []any{"https://c", "https://d"}, created: now.Unix()},
		{name: "data with nested image", body: `{"data":[{"image":{"url":"https://e"}},"https://f"]}`, urls: []any{"https://e", "https://f"}, created: now.Unix()},
		{name: "direct url", body: `{"url":"https://g"}`, urls: []any{"https://g"}, created: now.Unix()},
	}
	for _, testCase := range testCases {
		normalized := NormalizeBody([]byte(testCase.body), now)
		data, ok := normalized["data"].([]any)
		if !ok || len(data) != len(testCase.urls) {
			test.Fatalf("%s: unexpected data %v", testCase.name, normalized["data"])
		}
		for index, url := range testCase.urls {
			if data[index].(map[string]any)["url"] != url {
				test.Fatalf("%s: expected %v at %d, got %v", testCase.name, url, index, data[index])
			}
		}
		if normalized["created"] != testCase.created {
			test.Fatalf("%s: expected created %v, got %v (%T)", testCase.name, testCase.created, normalized["created"], normalized["created"])
		}
	}
}

func TestNormalizeFallbackWrapsPayload(test *testing.T) {
	test.Parallel()
	normalized := NormalizeBody([]byte(`{"id":"style-123"}`), time.Unix(10, 0))
	data := normalized["data"].([]any)
	wrapped := data[0].(map[string]any)["url"].(map[string]any)
	if wrapped["id"] != "style-123" {
		test.Fatalf("expected payload to be wrapped, got %v", normalized)
	}
}
