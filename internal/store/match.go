package store

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Match проверяет, удовлетворяет ли запись условиям фильтра.
// Сортировка и пагинация здесь не учитываются.
func Match(row Row, f Filter) bool {
	for _, c := range f.Conditions {
		v, present := row[c.Column]
		switch c.Op {
		case OpEq:
			if !present || !SameValue(v, c.Value) {
				return false
			}
		case OpIsNull:
			if present && v != nil {
				return false
			}
		case OpContains:
			if !arrayContains(v, c.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// SameValue сравнивает значения из JSON-записи и из фильтра.
// Числа сравниваются как float64, остальное - по строковому представлению.
func SameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	fa, okA := number(a)
	fb, okB := number(b)
	if okA && okB {
		return fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// Sort упорядочивает записи по правилам фильтра
func Sort(rows []Row, orders []Order) {
	if len(orders) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range orders {
			a, b := rows[i][o.Column], rows[j][o.Column]
			c := compare(a, b)
			if c == 0 {
				continue
			}
			// NULLS LAST в обоих направлениях
			if a == nil || b == nil {
				return b == nil
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Paginate применяет limit/offset
func Paginate(rows []Row, limit, offset int) []Row {
	if offset > 0 {
		if offset >= len(rows) {
			return []Row{}
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	fa, okA := number(a)
	fb, okB := number(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func number(v any) (float64, bool) {
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
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

func arrayContains(arr, value any) bool {
	switch list := arr.(type) {
	case []any:
		for _, v := range list {
			if SameValue(v, value) {
				return true
			}
		}
	case []string:
		for _, v := range list {
			if SameValue(v, value) {
				return true
			}
		}
	}
	return false
}
