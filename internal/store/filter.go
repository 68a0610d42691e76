package store

// Op - оператор условия фильтра
type Op string

const (
	OpEq       Op = "eq"
	OpIsNull   Op = "is_null"
	OpContains Op = "contains" // элемент входит в колонку-массив
)

// Condition - одно условие фильтра
type Condition struct {
	Column string
	Op     Op
	Value  any
}

// Order - сортировка результата
type Order struct {
	Column string
	Desc   bool
}

// Filter описывает выборку: условия объединяются через AND
type Filter struct {
	Conditions []Condition
	Orders     []Order
	Limit      int
	Offset     int
}

// Where создаёт фильтр с условием равенства
func Where(column string, value any) Filter {
	return Filter{}.Eq(column, value)
}

// All возвращает пустой фильтр
func All() Filter {
	return Filter{}
}

// Eq добавляет условие column = value
func (f Filter) Eq(column string, value any) Filter {
	f.Conditions = append(cloneConditions(f.Conditions), Condition{Column: column, Op: OpEq, Value: value})
	return f
}

// IsNull добавляет условие column IS NULL
func (f Filter) IsNull(column string) Filter {
	f.Conditions = append(cloneConditions(f.Conditions), Condition{Column: column, Op: OpIsNull})
	return f
}

// Contains добавляет условие «value входит в массив column»
func (f Filter) Contains(column string, value any) Filter {
	f.Conditions = append(cloneConditions(f.Conditions), Condition{Column: column, Op: OpContains, Value: value})
	return f
}

// OrderBy добавляет сортировку
func (f Filter) OrderBy(column string, desc bool) Filter {
	f.Orders = append(append([]Order(nil), f.Orders...), Order{Column: column, Desc: desc})
	return f
}

// Page задаёт пагинацию
func (f Filter) Page(limit, offset int) Filter {
	f.Limit = limit
	f.Offset = offset
	return f
}

func cloneConditions(c []Condition) []Condition {
	return append([]Condition(nil), c...)
}
