package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
)

// EntryError 单条知识块的校验错误
type EntryError struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationReport 整轮摄取的校验报告。
// 任何一条记录非法都会导致整轮摄取中止。
type ValidationReport struct {
	Total   int          `json:"total"`
	Invalid []EntryError `json:"invalid"`
}

// OK 校验是否全部通过
func (r *ValidationReport) OK() bool {
	return len(r.Invalid) == 0
}

func (r *ValidationReport) Error() string {
	if r.OK() {
		return ""
	}
	var msgs []string
	for _, e := range r.Invalid {
		msgs = append(msgs, fmt.Sprintf("entry %d: %s (%s)", e.Index, e.Message, e.Field))
	}
	return fmt.Sprintf("%d of %d entries invalid: %s", len(r.Invalid), r.Total, strings.Join(msgs, "; "))
}

// ChunkLoader 从JSON文件加载知识块
type ChunkLoader struct {
	validate *validator.Validate
}

// NewChunkLoader 创建知识块加载器
func NewChunkLoader() *ChunkLoader {
	v := validator.New()
	// chunktype: 限定为四种已知块类型
	v.RegisterValidation("chunktype", func(fl validator.FieldLevel) bool {
		return ValidChunkTypes[fl.Field().String()]
	})
	return &ChunkLoader{validate: v}
}

// LoadFile 从文件加载并校验知识块数组。
// 返回的报告列出所有非法条目的下标；只要存在非法条目就不返回任何块。
func (l *ChunkLoader) LoadFile(path string) ([]KnowledgeChunk, *ValidationReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read chunk file: %w", err)
	}
	return l.Load(data)
}

// Load 解析并校验JSON知识块数组
func (l *ChunkLoader) Load(data []byte) ([]KnowledgeChunk, *ValidationReport, error) {
	var chunks []KnowledgeChunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, nil, fmt.Errorf("failed to parse chunk file: %w", err)
	}

	report := &ValidationReport{Total: len(chunks)}
	for i, chunk := range chunks {
		if err := l.validate.Struct(chunk); err != nil {
			report.Invalid = append(report.Invalid, toEntryErrors(i, err)...)
			continue
		}
		// column_detail与relationship必须归属到具体表，否则二阶段过滤无从谈起
		if RequiresTableName(chunk.Metadata.Type) && strings.TrimSpace(chunk.Metadata.TableName) == "" {
			report.Invalid = append(report.Invalid, EntryError{
				Index:   i,
				Field:   "metadata.table_name",
				Message: fmt.Sprintf("table_name is required for type %q", chunk.Metadata.Type),
			})
		}
	}

	if !report.OK() {
		return nil, report, nil
	}
	return chunks, report, nil
}

func toEntryErrors(index int, err error) []EntryError {
	var out []EntryError
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, ve := range verrs {
			msg := "is invalid"
			switch ve.Tag() {
			case "required":
				msg = "is required"
			case "chunktype":
				msg = "must be one of table_overview, column_detail, relationship, business_rule"
			}
			out = append(out, EntryError{
				Index:   index,
				Field:   strings.ToLower(ve.Namespace()),
				Message: msg,
			})
		}
		return out
	}
	return []EntryError{{Index: index, Field: "", Message: err.Error()}}
}
