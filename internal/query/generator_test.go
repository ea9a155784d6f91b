package query

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/finance-qa/internal/catalog"
	"github.com/kyleking/finance-qa/internal/errors"
	"github.com/kyleking/finance-qa/internal/llm"
)

func TestSQLGenerator_GenerateSQL(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		expected string
	}{
		{
			name:     "bare statement",
			reply:    "SELECT SecuCode FROM constantdb.secumain WHERE SecuAbbr = '平安银行'",
			expected: "SELECT SecuCode FROM constantdb.secumain WHERE SecuAbbr = '平安银行'",
		},
		{
			name:     "fenced with language tag",
			reply:    "```sql\nSELECT 1;\n```",
			expected: "SELECT 1;",
		},
		{
			name:     "fenced without language tag",
			reply:    "```\nSELECT 2\n```\n",
			expected: "SELECT 2",
		},
		{
			name:     "single line fence",
			reply:    "```sql SELECT 3```",
			expected: "SELECT 3",
		},
		{
			name:     "surrounding whitespace",
			reply:    "\n\n  SELECT 4  \n",
			expected: "SELECT 4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockLLM := &MockLLMService{}
			mockLLM.On("Complete", mock.Anything, mock.Anything).Return(reply(tt.reply), nil).Once()

			gen := NewSQLGenerator(mockLLM, DefaultGenerationTemperature, nil)

			sql, err := gen.GenerateSQL(context.Background(), "q", []string{"constantdb.secumain"}, catalog.FieldMap{})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, sql)
			mockLLM.AssertExpectations(t)
		})
	}
}

func TestSQLGenerator_Request(t *testing.T) {
	fields := catalog.FieldMap{
		"constantdb.secumain": {
			{Name: "SecuCode", Type: "VARCHAR", Description: "证券代码"},
		},
	}

	mockLLM := &MockLLMService{}
	mockLLM.On("Complete", mock.Anything, mock.MatchedBy(func(req llm.Request) bool {
		if len(req.Messages) != 2 || req.Temperature != DefaultGenerationTemperature {
			return false
		}

		user := req.Messages[1].Content

		return req.Messages[0].Content == sqlGenerationSystemPrompt &&
			strings.Contains(user, "问题: 平安银行的股票代码") &&
			strings.Contains(user, `可用的表: ["constantdb.secumain"]`) &&
			strings.Contains(user, `"description":"证券代码"`) &&
			strings.HasSuffix(user, "只返回SQL语句，不需要其他解释。")
	})).Return(reply("SELECT SecuCode FROM constantdb.secumain"), nil).Once()

	gen := NewSQLGenerator(mockLLM, DefaultGenerationTemperature, nil)

	_, err := gen.GenerateSQL(context.Background(), "平安银行的股票代码", []string{"constantdb.secumain"}, fields)
	require.NoError(t, err)
	mockLLM.AssertExpectations(t)
}

func TestSQLGenerator_Errors(t *testing.T) {
	t.Run("llm failure", func(t *testing.T) {
		mockLLM := &MockLLMService{}
		mockLLM.On("Complete", mock.Anything, mock.Anything).
			Return(nil, errors.New(errors.ErrTypeLLM, "quota exceeded")).Once()

		_, err := NewSQLGenerator(mockLLM, 0.3, nil).GenerateSQL(context.Background(), "q", nil, nil)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeSQLGeneration))
		assert.Contains(t, err.Error(), "quota exceeded")
	})

	t.Run("empty fence", func(t *testing.T) {
		mockLLM := &MockLLMService{}
		mockLLM.On("Complete", mock.Anything, mock.Anything).Return(reply("```sql\n```"), nil).Once()

		_, err := NewSQLGenerator(mockLLM, 0.3, nil).GenerateSQL(context.Background(), "q", nil, nil)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeSQLGeneration))
	})
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `["a"]`, stripCodeFence("```json\n[\"a\"]\n```"))
	assert.Equal(t, "SELECT 1", stripCodeFence("```SELECT 1```"))
	assert.Equal(t, "plain", stripCodeFence("  plain "))
}
