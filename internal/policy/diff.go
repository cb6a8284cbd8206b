package policy

import "github.com/pmezard/go-difflib/difflib"

// diffContext: строк контекста вокруг каждой группы изменений.
const diffContext = 2

// Diff строит построчный diff стабильных сериализаций двух документов.
// Пустая строка означает отсутствие изменений.
func Diff(prev, next *Document) string {
	return DiffText(Serialize(prev), Serialize(next), "previous", "current")
}

// DiffText: unified-формат с заголовками --- / +++ и группами @@ -a,n +b,m @@.
func DiffText(a, b, nameA, nameB string) string {
	if a == b {
		return ""
	}
	// Ошибку может вернуть только запись в буфер, а она не падает
	d, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: nameA,
		ToFile:   nameB,
		Context:  diffContext,
	})
	return d
}
