/*
Copyright 2025 Kunpeto.

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

package httpapi

import (
	"github.com/kunpeto/driver-management-system-sub001/internal/assessment"
	"github.com/kunpeto/driver-management-system-sub001/internal/auth"
	"github.com/kunpeto/driver-management-system-sub001/internal/profile"
	"github.com/kunpeto/driver-management-system-sub001/internal/store"
	schedsync "github.com/kunpeto/driver-management-system-sub001/internal/sync"
	"github.com/kunpeto/driver-management-system-sub001/pkg/credentials"
	"github.com/kunpeto/driver-management-system-sub001/pkg/drive"
)

// Compile-time checks that the production types satisfy the handler
// dependencies.
var (
	_ AuthService     = (*auth.Service)(nil)
	_ ProfileService  = (*profile.Service)(nil)
	_ Scoring         = (*assessment.Engine)(nil)
	_ BonusProcessor  = (*assessment.BonusEngine)(nil)
	_ RewardProcessor = (*assessment.RewardEngine)(nil)
	_ SyncService     = (*schedsync.Orchestrator)(nil)
	_ GoogleAuth      = (*credentials.OAuthManager)(nil)
	_ Uploads         = (*drive.Dispatcher)(nil)
	_ Directory       = (*store.Store)(nil)
)
