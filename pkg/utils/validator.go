package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var fieldErrorFormats = map[string]string{
	"required": "字段 %s 不能为空",
	"oneof":    "字段 %s 取值必须是 %s 之一",
	"min":      "字段 %s 不能少于 %s",
	"max":      "字段 %s 不能超过 %s",
	"gt":       "字段 %s 必须大于 %s",
	"gte":      "字段 %s 不能小于 %s",
	"lte":      "字段 %s 不能大于 %s",
}

// FormatValidationError 把绑定错误转成可读的校验信息
func FormatValidationError(err error) string {
	if err == nil {
		return ""
	}

	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) {
		messages := make([]string, 0, len(fieldErrors))
		for _, fe := range fieldErrors {
			messages = append(messages, formatFieldError(fe))
		}
		return strings.Join(messages, "; ")
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("字段 %s 类型应为 %s", typeErr.Field, typeErr.Type.String())
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return "请求体不是合法的 JSON"
	}

	return err.Error()
}

func formatFieldError(fe validator.FieldError) string {
	if format, ok := fieldErrorFormats[fe.Tag()]; ok {
		if strings.Count(format, "%s") == 1 {
			return fmt.Sprintf(format, fe.Field())
		}
		return fmt.Sprintf(format, fe.Field(), fe.Param())
	}
	return fmt.Sprintf("字段 %s 未通过 %s 校验", fe.Field(), fe.Tag())
}
