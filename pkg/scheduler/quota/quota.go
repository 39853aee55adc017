// Copyright (c) 2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package quota admits production work against per-role resource quotas.
package quota

import (
	"fmt"

	"github.com/uber/borealis/pkg/scheduler/api"
	"github.com/uber/borealis/pkg/scheduler/resources"
	"github.com/uber/borealis/pkg/storage"
)

// Result is the outcome of a quota check.
type Result struct {
	OK bool
	// Detail explains a refusal in operator terms.
	Detail string
}

// CheckInstanceAddition decides whether count new instances of config fit
// inside the role's quota. Only production tasks consume quota;
// non-production work is always admitted. Runs against the caller's
// transaction so admission and insertion are atomic.
func CheckInstanceAddition(
	v *storage.View,
	config *api.TaskConfig,
	count int) (Result, error) {

	if !config.Production {
		return Result{OK: true}, nil
	}

	quota, err := v.GetQuota(config.Job.Role)
	if err != nil {
		return Result{}, err
	}
	if quota == nil {
		return Result{
			OK: false,
			Detail: fmt.Sprintf(
				"role %s has no quota, production tasks are not admitted",
				config.Job.Role),
		}, nil
	}

	consumed, err := productionConsumption(v, config.Job.Role)
	if err != nil {
		return Result{}, err
	}

	ask := config.Resources.Vector
	requested := resources.Vector{}
	for i := 0; i < count; i++ {
		requested = requested.Add(ask)
	}
	total := consumed.Add(requested)
	if !quota.Resources.Contains(total) {
		return Result{
			OK: false,
			Detail: fmt.Sprintf(
				"role %s quota %v cannot admit %d instance(s): consumed %v, requested %v",
				config.Job.Role, quota.Resources, count, consumed, requested),
		}, nil
	}
	return Result{OK: true}, nil
}

// productionConsumption sums the resources of a role's active production
// tasks.
func productionConsumption(v *storage.View, role string) (resources.Vector, error) {
	tasks, err := v.GetAllTasks()
	if err != nil {
		return resources.Vector{}, err
	}
	sum := resources.Vector{}
	for _, t := range tasks {
		if !t.Status.IsActive() {
			continue
		}
		if t.Config.Job.Role != role || !t.Config.Production {
			continue
		}
		sum = sum.Add(t.Config.Resources.Vector)
	}
	return sum, nil
}
