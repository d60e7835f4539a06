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
	"fmt"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kunpeto/driver-management-system-sub001/internal/assessment"
	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
	"github.com/kunpeto/driver-management-system-sub001/pkg/metrics"
)

var _ = Describe("Attendance Bonus Engine", func() {
	var (
		ctx   context.Context
		fs    *fakeStore
		bonus *assessment.BonusEngine
	)

	const (
		year  = 2026
		month = 1
	)
	dept := domain.DepartmentTanhai
	day := func(d int) time.Time {
		return time.Date(year, time.Month(month), d, 0, 0, 0, 0, time.UTC)
	}

	BeforeEach(func() {
		ctx = context.Background()
		fs = newFakeStore()
		fs.addStandard("+M01", domain.CategoryMR, 3, false, false)
		fs.addStandard("+A01", domain.CategoryAR, 3, false, false)
		fs.addStandard("+A02", domain.CategoryAR, 1, false, false)
		fs.addStandard("+A03", domain.CategoryAR, 0.5, false, false)
		fs.addStandard("+A04", domain.CategoryAR, 1, false, false)
		fs.addStandard("+A05", domain.CategoryAR, 1.5, false, false)
		fs.addStandard("+A06", domain.CategoryAR, 2, false, false)
		bonus = assessment.NewBonusEngine(fs, zap.NewNop())
	})

	// fillMonth writes a normal cell for every day of January.
	fillMonth := func(emp domain.Employee) {
		for d := 1; d <= 31; d++ {
			fs.addCell(dept, emp.ID, day(d), "0905G")
		}
	}

	It("derives the documented scenario: 10 full-attendance employees plus 5 R cells → 15 records, then 0", func() {
		var emps []domain.Employee
		for i := 0; i < 10; i++ {
			emp := fs.addEmployee(fmt.Sprintf("2304A10%02d", i), dept)
			fillMonth(emp)
			emps = append(emps, emp)
		}
		// Five of the normal cells become R-shift cells (still not leave, so
		// full attendance holds).
		for i := 0; i < 5; i++ {
			fs.cells[i*31] = domain.ScheduleCell{
				Department: dept, EmployeeID: emps[i].ID, WorkDate: day(1), RawText: "R/0905G",
			}
		}

		first, err := bonus.Process(ctx, dept, year, month, false, "cron")
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Created["+M01"]).To(Equal(10))
		Expect(first.Created["+A01"]).To(Equal(5))
		Expect(first.Skipped).To(BeEmpty())

		second, err := bonus.Process(ctx, dept, year, month, false, "cron")
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Created).To(BeEmpty())
		Expect(second.Skipped).To(HaveLen(15))
	})

	It("counts written records per code, but not dry-run proposals or skips", func() {
		before := testutil.ToFloat64(metrics.BonusRecords.WithLabelValues("+M01"))

		emp := fs.addEmployee("2304A1001", dept)
		fillMonth(emp)

		_, err := bonus.Process(ctx, dept, year, month, true, "cron")
		Expect(err).NotTo(HaveOccurred())
		Expect(testutil.ToFloat64(metrics.BonusRecords.WithLabelValues("+M01"))).To(Equal(before))

		_, err = bonus.Process(ctx, dept, year, month, false, "cron")
		Expect(err).NotTo(HaveOccurred())
		Expect(testutil.ToFloat64(metrics.BonusRecords.WithLabelValues("+M01"))).To(Equal(before + 1))

		_, err = bonus.Process(ctx, dept, year, month, false, "cron")
		Expect(err).NotTo(HaveOccurred())
		Expect(testutil.ToFloat64(metrics.BonusRecords.WithLabelValues("+M01"))).To(Equal(before + 1))
	})

	It("denies +M01 when any cell carries the leave marker", func() {
		emp := fs.addEmployee("2304A1001", dept)
		fillMonth(emp)
		fs.addCell(dept, emp.ID, day(15), "特(假)")

		res, err := bonus.Process(ctx, dept, year, month, false, "cron")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Created).NotTo(HaveKey("+M01"))
	})

	It("emits two records for a composite R-shift + overtime cell", func() {
		emp := fs.addEmployee("2304A1001", dept)
		fs.addCell(dept, emp.ID, day(3), "R/0905G(+2)")

		res, err := bonus.Process(ctx, dept, year, month, false, "cron")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Created["+A01"]).To(Equal(1))
		Expect(res.Created["+A04"]).To(Equal(1)) // (+2) → +A04

		recs := fs.liveRecordsFor(emp.ID)
		Expect(recs).To(HaveLen(3)) // +A01, +A04, +M01 (single-cell month, no leave)
	})

	It("maps each overtime step to its own code", func() {
		emp := fs.addEmployee("2304A1001", dept)
		fs.addCell(dept, emp.ID, day(1), "0905G(+1)")
		fs.addCell(dept, emp.ID, day(2), "0905G(+2)")
		fs.addCell(dept, emp.ID, day(3), "0905G(+3)")
		fs.addCell(dept, emp.ID, day(4), "0905G(+4)")

		res, err := bonus.Process(ctx, dept, year, month, false, "cron")
		Expect(err).NotTo(HaveOccurred())
		for _, code := range []string{"+A03", "+A04", "+A05", "+A06"} {
			Expect(res.Created[code]).To(Equal(1), code)
		}
	})

	It("counts national-holiday R shifts under +A02", func() {
		emp := fs.addEmployee("2304A1001", dept)
		fs.addCell(dept, emp.ID, day(1), "R(國)/0711A")

		res, err := bonus.Process(ctx, dept, year, month, false, "cron")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Created["+A02"]).To(Equal(1))
		Expect(res.Created).NotTo(HaveKey("+A01"))
	})

	It("writes nothing in dry-run mode but reports the proposals", func() {
		emp := fs.addEmployee("2304A1001", dept)
		fillMonth(emp)

		res, err := bonus.Process(ctx, dept, year, month, true, "tester")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Created["+M01"]).To(Equal(1))
		Expect(fs.liveRecordsFor(emp.ID)).To(BeEmpty())

		// A later real run still creates everything.
		real, err := bonus.Process(ctx, dept, year, month, false, "tester")
		Expect(err).NotTo(HaveOccurred())
		Expect(real.Created["+M01"]).To(Equal(1))
	})

	It("warns on cells for unknown employees and continues", func() {
		ghost := domain.Employee{ID: uuid.UUID{1}}
		fs.addCell(dept, ghost.ID, day(1), "0905G")
		emp := fs.addEmployee("2304A1001", dept)
		fillMonth(emp)

		res, err := bonus.Process(ctx, dept, year, month, false, "cron")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Warnings).To(HaveLen(1))
		Expect(res.Created["+M01"]).To(Equal(1))
	})
})
