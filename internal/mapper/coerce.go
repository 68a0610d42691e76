// Package mapper переводит записи коллекций бэкенда в доменные сущности и обратно.
// Все приведения типов сосредоточены здесь: функции тотальны и не возвращают ошибок.
package mapper

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rajivgeraev/skillmates-api/internal/store"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999Z07",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999Z07:00",
	"2006-01-02 15:04:05.999999Z07",
}

func str(row store.Row, key string) string {
	switch v := row[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func num(row store.Row, key string) float64 {
	f, ok := toFloat(row[key])
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func integer(row store.Row, key string) int {
	return int(math.Round(num(row, key)))
}

func optInt(row store.Row, key string) *int {
	f, ok := toFloat(row[key])
	if !ok {
		return nil
	}
	n := int(math.Round(f))
	return &n
}

func boolean(row store.Row, key string, def bool) bool {
	switch v := row[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	case float64:
		return v != 0
	}
	return def
}

func strList(row store.Row, key string) []string {
	out := []string{}
	switch v := row[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
	case string:
		// Postgres-литерал массива {a,b} или JSON-строка
		s := strings.TrimSpace(v)
		if strings.HasPrefix(s, "[") {
			var list []string
			if json.Unmarshal([]byte(s), &list) == nil {
				out = append(out, list...)
			}
		} else if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
			for _, part := range strings.Split(strings.Trim(s, "{}"), ",") {
				if part = strings.Trim(strings.TrimSpace(part), `"`); part != "" {
					out = append(out, part)
				}
			}
		}
	}
	return out
}

func timestamp(row store.Row, key string) time.Time {
	switch v := row[key].(type) {
	case time.Time:
		return v
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func optTime(row store.Row, key string) *time.Time {
	t := timestamp(row, key)
	if t.IsZero() {
		return nil
	}
	return &t
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// setIf кладёт значение в запись, только если указатель задан
func setIf[T any](row store.Row, key string, v *T) {
	if v != nil {
		row[key] = *v
	}
}
