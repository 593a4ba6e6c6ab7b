package handler

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-demo/watchparty/internal/dto/response"
	"github.com/go-demo/watchparty/internal/pkg/utils"
	"github.com/go-playground/validator/v10"
)

var registerTagNames sync.Once

// useJSONFieldNames makes validation errors report fields by their JSON
// (or query) names instead of Go struct field names
func useJSONFieldNames() {
	registerTagNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return fld.Name
		})
	})
}

// bindJSON decodes the body into req. Constraint failures get a field-level
// validation response; anything else is a malformed request.
func bindJSON(c *gin.Context, req interface{}) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		response.ValidationError(c, validationDetails(fieldErrs))
		return false
	}

	response.BadRequest(c, "請求格式錯誤")
	return false
}

func validationDetails(fieldErrs validator.ValidationErrors) utils.ValidationErrors {
	details := make(utils.ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, &utils.ValidationError{
			Field:   fe.Field(),
			Message: fieldMessage(fe),
		})
	}
	return details
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "此欄位為必填"
	case "max":
		if fe.Kind() == reflect.String {
			return "長度不能超過 " + fe.Param() + " 個字元"
		}
		return "不能超過 " + fe.Param()
	case "min":
		if fe.Kind() == reflect.String {
			return "長度不能少於 " + fe.Param() + " 個字元"
		}
		return "不能小於 " + fe.Param()
	default:
		return "格式不正確"
	}
}
