package dataset

const (
	// DefaultRowCount is used when a prompt names no usable row count.
	DefaultRowCount = 10
	// MaxRowCount bounds the rows any single table operation produces.
	MaxRowCount = 100_000
)

var (
	defaultSchema = []string{"name", "value"}
	firstNames    = []string{"Ivan", "Maria", "Olga", "Sergey", "Anna", "Dmitry"}
	surnames      = []string{"Ivanov", "Petrov", "Sidorov", "Kuznetsov"}
)

// DefaultSchema returns the schema used when a prompt lists no columns.
func DefaultSchema() []string {
	return clone(defaultSchema)
}

// FirstNames returns the roster used for name-like placeholder columns.
func FirstNames() []string {
	return clone(firstNames)
}

// Surnames returns the roster used for surname-like placeholder columns.
func Surnames() []string {
	return clone(surnames)
}

// NormalizeRowCount replaces a non-positive count with DefaultRowCount.
func NormalizeRowCount(n int) int {
	if n < 1 {
		return DefaultRowCount
	}
	return n
}

// ClampRowCount is NormalizeRowCount capped at MaxRowCount.
func ClampRowCount(n int) int {
	return min(NormalizeRowCount(n), MaxRowCount)
}

func clone(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
