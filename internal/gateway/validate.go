package gateway

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/treykane/port-console/internal/model"
)

// RuleTypes are the iptables redirect types the backend accepts.
var RuleTypes = []string{"tcp", "udp", "all"}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidatePort checks a port payload before it is sent.
func ValidatePort(in model.PortInput) error {
	return structFailure("validate port", validate.Struct(in))
}

// ValidatePortUser checks a membership payload before it is sent.
func ValidatePortUser(in model.PortUserInput) error {
	return structFailure("validate port user", validate.Struct(in))
}

// ValidateForwardRule checks a rule payload. The iptables config is only
// interpreted for the iptables method.
func ValidateForwardRule(in model.ForwardRuleInput) error {
	const op = "validate forward rule"
	if err := structFailure(op, validate.Struct(in)); err != nil {
		return err
	}
	if !in.IsIPTables() {
		return nil
	}
	fields := map[string]string{}
	if err := validate.Var(in.Config.Type, "oneof="+strings.Join(RuleTypes, " ")); err != nil {
		fields["config.type"] = "must be one of " + strings.Join(RuleTypes, ", ")
	}
	if err := validate.Var(in.Config.RemoteAddress, "required,hostname_rfc1123|ip"); err != nil {
		fields["config.remote_address"] = "must be a hostname or IP address"
	}
	if err := validate.Var(in.Config.RemotePort, "min=1,max=65535"); err != nil {
		fields["config.remote_port"] = "must be 1-65535"
	}
	if len(fields) > 0 {
		return ValidationFailure(op, "invalid forward rule", fields)
	}
	return nil
}

func structFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationFailure(op, err.Error(), nil)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields[fe.Field()] = "must satisfy " + rule
	}
	return ValidationFailure(op, "invalid payload", fields)
}
