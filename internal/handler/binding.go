package handler

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"humgo/internal/domain"
	"humgo/internal/validation"
)

// RegisterValidators adds the custom binding rules used by request DTOs:
//
//	vehicle  whitelisted vehicle type
//	tripid   trip id charset and length
//	matchid  match id charset and length
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}

	rules := map[string]validator.Func{
		"vehicle": func(fl validator.FieldLevel) bool {
			return domain.VehicleType(fl.Field().String()).Valid()
		},
		"tripid": func(fl validator.FieldLevel) bool {
			return validation.IsValidID(fl.Field().String(), validation.MaxTripIDLength)
		},
		"matchid": func(fl validator.FieldLevel) bool {
			return validation.IsValidMatchID(fl.Field().String())
		},
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}
