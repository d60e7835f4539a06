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

package assessment_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/kunpeto/driver-management-system-sub001/internal/assessment"
	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
)

var _ = Describe("Monthly Reward Derivation", func() {
	var (
		ctx     context.Context
		fs      *fakeStore
		engine  *assessment.Engine
		rewards *assessment.RewardEngine
	)

	dept := domain.DepartmentTanhai
	date := func(d int) time.Time { return time.Date(2026, 6, d, 0, 0, 0, 0, time.UTC) }

	BeforeEach(func() {
		ctx = context.Background()
		fs = newFakeStore()
		fs.addStandard("+M02", domain.CategoryMR, 1, false, false)
		fs.addStandard("+M03", domain.CategoryMR, 2, false, false)
		fs.addStandard("S12", domain.CategoryS, -2, true, false)
		fs.addStandard("D01", domain.CategoryD, -1, true, false)
		engine = assessment.NewEngine(fs, zap.NewNop())
		rewards = assessment.NewRewardEngine(fs, zap.NewNop())
	})

	score := func(emp domain.Employee, code string, d time.Time) {
		_, err := engine.ApplyRecord(ctx, assessment.Draft{
			Department: dept, EmployeeID: emp.ID, StandardCode: code,
			EventDate: d, Actor: "tester",
		})
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
	}

	It("grants both rewards to a clean month", func() {
		fs.addEmployee("2304A1001", dept)

		res, err := rewards.Process(ctx, dept, 2026, 6, "cron")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Created["+M02"]).To(Equal(1))
		Expect(res.Created["+M03"]).To(Equal(1))
	})

	It("denies +M02 and +M03 on a safety-category record", func() {
		emp := fs.addEmployee("2304A1001", dept)
		score(emp, "S12", date(10))

		res, err := rewards.Process(ctx, dept, 2026, 6, "cron")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Created).NotTo(HaveKey("+M02"))
		Expect(res.Created).NotTo(HaveKey("+M03"))
	})

	It("keeps +M02 but denies +M03 on a non-safety deduction", func() {
		emp := fs.addEmployee("2304A1001", dept)
		score(emp, "D01", date(10))

		res, err := rewards.Process(ctx, dept, 2026, 6, "cron")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Created["+M02"]).To(Equal(1))
		Expect(res.Created).NotTo(HaveKey("+M03"))
	})

	It("ignores soft-deleted records when judging the month", func() {
		emp := fs.addEmployee("2304A1001", dept)
		score(emp, "S12", date(10))
		recs := fs.liveRecordsFor(emp.ID)
		Expect(engine.DeleteRecord(ctx, recs[0].ID)).To(Succeed())

		res, err := rewards.Process(ctx, dept, 2026, 6, "cron")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Created["+M02"]).To(Equal(1))
		Expect(res.Created["+M03"]).To(Equal(1))
	})

	It("ignores records from other months", func() {
		emp := fs.addEmployee("2304A1001", dept)
		score(emp, "S12", time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC))

		res, err := rewards.Process(ctx, dept, 2026, 6, "cron")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Created["+M02"]).To(Equal(1))
	})

	It("emits nothing on a second run", func() {
		fs.addEmployee("2304A1001", dept)
		_, err := rewards.Process(ctx, dept, 2026, 6, "cron")
		Expect(err).NotTo(HaveOccurred())

		second, err := rewards.Process(ctx, dept, 2026, 6, "cron")
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Created).To(BeEmpty())
		Expect(second.Skipped).To(HaveLen(2))
	})
})
