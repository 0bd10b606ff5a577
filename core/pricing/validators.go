package pricing

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/roofest/core"
)

var (
	planTypeTag  = "plantype"
	planTypeText = "{0} must be a known plan type"

	currencyTag  = "currency"
	currencyText = "{0} must be one of AUD, USD, EUR or NOK"
)

// RegisterValidators registers the `plantype` and `currency` tags against `table`.
func RegisterValidators(validate *validator.Validate, translator ut.Translator, table *Table) {
	_ = validate.RegisterValidation(planTypeTag, func(fl validator.FieldLevel) bool {
		return table.Has(fl.Field().String())
	})
	core.RegisterCustomTranslation(validate, translator, planTypeTag, planTypeText)

	_ = validate.RegisterValidation(currencyTag, func(fl validator.FieldLevel) bool {
		_, err := table.Converter().rate(Currency(fl.Field().String()))
		return err == nil
	})
	core.RegisterCustomTranslation(validate, translator, currencyTag, currencyText)
}
