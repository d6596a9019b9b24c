package transform

// Имена операторов, доступных code-шагам.
const (
	OpMerge     = "merge"
	OpBind      = "bind"
	OpCombine   = "combine"
	OpExpand    = "expand"
	OpSegregate = "segregate"
	OpFinalize  = "finalize"
)

var operators = map[string]bool{
	OpMerge:     true,
	OpBind:      true,
	OpCombine:   true,
	OpExpand:    true,
	OpSegregate: true,
	OpFinalize:  true,
}

// IsOperator сообщает, существует ли оператор с таким именем.
func IsOperator(name string) bool {
	return operators[name]
}

// Operators возвращает имена всех операторов.
func Operators() []string {
	names := make([]string, 0, len(operators))
	for name := range operators {
		names = append(names, name)
	}
	return names
}
