package recraft

import (
	"encoding/json"
	"strings"
	"time"
)

// NormalizeBody decodes an upstream success body and reshapes it into {data:[{url}], created}.
// Bodies that are not JSON are treated as a bare string.
func NormalizeBody(raw []byte, now time.Time) map[string]any {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		payload = strings.TrimSpace(string(raw))
	}
	return Normalize(payload, now)
}

// Normalize reshapes the known upstream response variants.
func Normalize(payload any, now time.Time) map[string]any {
	if text, ok := payload.(string); ok && strings.HasPrefix(text, "http") {
		return wrapURLs([]any{text}, now.Unix())
	}
	object, _ := payload.(map[string]any)
	created := createdOf(object, now)

	if items, ok := object["data"].([]any); ok && len(items) > 0 && truthy(urlOf(items[0])) {
		normalized := make(map[string]any, len(object)+1)
		for key, value := range object {
			normalized[key] = value
		}
		if !truthy(normalized["created"]) {
			normalized["created"] = created
		}
		return normalized
	}
	if url := nestedURL(object, "image"); truthy(url) {
		return wrapURLs([]any{url}, created)
	}
	if images, ok := object["images"].([]any); ok {
		urls := make([]any, 0, len(images))
		for _, image := range images {
			urls = append(urls, urlOf(image))
		}
		return wrapURLs(urls, created)
	}
	if items, ok := object["data"].([]any); ok {
		urls := make([]any, 0, len(items))
		for _, item := range items {
			switch {
			case truthy(urlOf(item)):
				urls = append(urls, urlOf(item))
			case truthy(nestedURL(asObject(item), "image")):
				urls = append(urls, nestedURL(asObject(item), "image"))
			default:
				urls = append(urls, item)
			}
		}
		return wrapURLs(urls, created)
	}
	if url := object["url"]; truthy(url) {
		return wrapURLs([]any{url}, created)
	}
	return wrapURLs([]any{payload}, created)
}

func wrapURLs(urls []any, created any) map[string]any {
	data := make([]any, 0, len(urls))
	for _, url := range urls {
		data = append(data, map[string]any{"url": url})
	}
	return map[string]any{"data": data, "created": created}
}

func createdOf(object map[string]any, now time.Time) any {
	if created := object["created"]; truthy(created) {
		return created
	}
	return now.Unix()
}

func urlOf(value any) any {
	return asObject(value)["url"]
}

func nestedURL(object map[string]any, key string) any {
	return asObject(object[key])["url"]
}

func asObject(value any) map[string]any {
	object, _ := value.(map[string]any)
	return object
}

func truthy(value any) bool {
	switch typed := value.(type) {
	case nil:
		return false
	case string:
		return typed != ""
	case bool:
		return typed
	case float64:
		return typed != 0
	default:
		return true
	}
}
