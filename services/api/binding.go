// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/mediasentry/pkg/validation"
)

var bindingOnce sync.Once

// registerBindingRules installs custom validation tags on gin's binding
// engine. "abspath" accepts absolute paths with no traversal segments.
func registerBindingRules() {
	bindingOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("abspath", func(fl validator.FieldLevel) bool {
			return validation.CheckFilePath(fl.Field().String()) == nil
		})
	})
}
