package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kyleking/finance-qa/internal/catalog"
)

const (
	tableSelectionSystemPrompt = "你是一个金融数据分析助手，帮助分析SQL查询需要用到的表。"
	sqlGenerationSystemPrompt  = "你是一个SQL专家，帮助生成准确的SQL查询语句。"
)

// buildTableSelectionPrompt lists every catalog table with its Chinese name
// and description, then asks for a JSON array of the tables the question needs.
func buildTableSelectionPrompt(question string, tables []catalog.Table) string {
	var sb strings.Builder

	sb.WriteString("作为一个金融数据分析助手，请帮我分析以下问题需要用到哪些数据表：\n\n")
	fmt.Fprintf(&sb, "问题：%s\n\n", question)
	sb.WriteString("可用的数据表及其描述：\n")

	for _, t := range tables {
		fmt.Fprintf(&sb, "- %s: %s，%s\n", t.Name, t.ChineseName, t.Description)
	}

	sb.WriteString("\n请分析这个问题需要查询哪些表，只返回表名列表，不需要其他解释。例如：\n")
	sb.WriteString(`["constantdb.secumain", "astockmarketquotesdb.qt_dailyquote"]`)
	sb.WriteString("\n\n注意：\n")
	sb.WriteString("1. 只返回必要的表\n")
	sb.WriteString("2. 如果需要关联查询，要返回所有相关的表\n")
	sb.WriteString("3. 如果问题信息不足，返回空列表 []")

	return sb.String()
}

// buildSQLGenerationPrompt embeds the question, chosen tables and their fields.
func buildSQLGenerationPrompt(question string, tables []string, fields catalog.FieldMap) string {
	var sb strings.Builder

	sb.WriteString("根据以下信息生成SQL查询语句:\n")
	fmt.Fprintf(&sb, "问题: %s\n", question)
	fmt.Fprintf(&sb, "可用的表: %s\n", toPromptJSON(tables))
	fmt.Fprintf(&sb, "字段信息: %s\n\n", toPromptJSON(fields))
	sb.WriteString("只返回SQL语句，不需要其他解释。")

	return sb.String()
}

// toPromptJSON renders v as compact JSON with non-ASCII and markup kept
// verbatim. Map keys come out sorted, so prompts are deterministic.
func toPromptJSON(v any) string {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}

	return strings.TrimSpace(buf.String())
}

var fenceLanguages = map[string]bool{
	"sql": true, "json": true, "mysql": true, "postgresql": true, "postgres": true, "duckdb": true,
}

// stripCodeFence removes a surrounding Markdown code fence (with optional
// language tag) and surrounding whitespace.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else if fields := strings.Fields(s); len(fields) > 1 && fenceLanguages[strings.ToLower(fields[0])] {
		// single-line fence: ```sql SELECT 1```
		s = strings.TrimSpace(s)[len(fields[0]):]
	}

	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}

	return strings.TrimSpace(s)
}
