/*
Copyright 2025 Jordi Gil.

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

package reportstore

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/ralph-core/pkg/orchestrator"
)

var _ = Describe("Save and List", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "reportstore-test")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("round-trips a report through Save and List", func() {
		report := orchestrator.Report{
			RunID:          "run-1",
			StartedAt:      time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC),
			FinishedAt:     time.Date(2026, 7, 1, 9, 5, 0, 0, time.UTC),
			Status:         orchestrator.StatusCompleted,
			TotalValidated: 4,
		}
		Expect(Save(dir, report)).To(Succeed())

		reports, err := List(dir, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(reports).To(HaveLen(1))
		Expect(reports[0].RunID).To(Equal("run-1"))
		Expect(reports[0].TotalValidated).To(Equal(4))
	})

	It("returns most-recent-first and respects limit", func() {
		for i, hour := range []int{9, 10, 11} {
			report := orchestrator.Report{
				RunID:     "run",
				StartedAt: time.Date(2026, 7, 1, hour, 0, 0, 0, time.UTC),
				Status:    orchestrator.StatusCompleted,
			}
			report.RunID = report.StartedAt.Format(time.RFC3339)
			Expect(Save(dir, report)).To(Succeed())
			_ = i
		}

		reports, err := List(dir, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(reports).To(HaveLen(2))
		Expect(reports[0].StartedAt.Hour()).To(Equal(11))
		Expect(reports[1].StartedAt.Hour()).To(Equal(10))
	})

	It("treats a missing directory as an empty history", func() {
		reports, err := List(filepath.Join(dir, "does-not-exist"), 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(reports).To(BeEmpty())
	})
})
