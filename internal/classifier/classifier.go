// Package classifier assigns a coarse category to a natural-language question
// by keyword matching.
package classifier

import "strings"

// QuestionType is the coarse category of a question
type QuestionType string

const (
	Basic       QuestionType = "basic"
	Statistical QuestionType = "statistical"
	Complex     QuestionType = "complex"
)

// Category pairs a question type with the keywords that select it.
type Category struct {
	Type     QuestionType
	Keywords []string
}

// Classifier checks categories in order; the first one with a keyword hit wins.
type Classifier struct {
	categories []Category
	fallback   QuestionType
}

var defaultCategories = []Category{
	{Type: Basic, Keywords: []string{"股票代码", "股票名称", "收盘价", "开盘价", "最高价", "最低价"}},
	{Type: Statistical, Keywords: []string{"平均", "总计", "涨停", "跌停", "换手率", "成交量"}},
	{Type: Complex, Keywords: []string{"财务分析", "行业对比", "趋势分析", "风险评估"}},
}

// New creates a classifier over the given ordered categories.
// Questions matching none of them are Basic.
func New(categories ...Category) *Classifier {
	copied := make([]Category, len(categories))
	for i, c := range categories {
		copied[i] = Category{Type: c.Type, Keywords: append([]string(nil), c.Keywords...)}
	}

	return &Classifier{categories: copied, fallback: Basic}
}

// Default returns the classifier for stock-market questions.
func Default() *Classifier {
	return New(defaultCategories...)
}

// Classify returns the type of the first category whose keywords appear in
// the question.
func (c *Classifier) Classify(question string) QuestionType {
	for _, category := range c.categories {
		for _, keyword := range category.Keywords {
			if keyword != "" && strings.Contains(question, keyword) {
				return category.Type
			}
		}
	}

	return c.fallback
}

// Classify categorises a question with the default classifier.
func Classify(question string) QuestionType {
	return defaultClassifier.Classify(question)
}

var defaultClassifier = Default()
