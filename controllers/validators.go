package controllers

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/yeremiapane/table-join/models"
	"github.com/yeremiapane/table-join/services"
)

var registerOnce sync.Once

// RegisterValidators adds the join binding rules to gin's validator. It is
// safe to call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("join_action", joinActionValidator)
			_ = v.RegisterValidation("join_end_reason", joinEndReasonValidator)
		}
	})
}

var joinActionValidator validator.Func = func(fl validator.FieldLevel) bool {
	return services.RespondAction(fl.Field().String()).Valid()
}

// Staff may end with any reason except confirmation_timeout, which only the
// coordinator itself records.
var joinEndReasonValidator validator.Func = func(fl validator.FieldLevel) bool {
	switch models.EndReason(fl.Field().String()) {
	case "", models.EndReasonAdminCancelled, models.EndReasonGuestLeft, models.EndReasonExpired:
		return true
	}
	return false
}
