/*
Copyright 2026 The Hesiod Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package vkc

import (
	"math"

	"golang.org/x/exp/constraints"
)

// SanitizeLimit is the largest magnitude a readback value may have before it is treated as corrupt.
const SanitizeLimit = 1e4

/*
Sanitize replaces every NaN, infinity and value with |v| > limit by 0 and
returns how many values were replaced. Corrupt readbacks are never an error,
the count is for the caller to log.
*/
func Sanitize[T constraints.Float](data []T, limit T) int {
	n := 0
	for i, v := range data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > float64(limit) {
			data[i] = 0
			n++
		}
	}
	return n
}
