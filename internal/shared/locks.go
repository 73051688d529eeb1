package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// CaseLockKey builds redis keys for per-case critical sections used by
// background jobs. Request-path serialization relies on the case row
// version check instead.
func CaseLockKey(caseID uuid.UUID) string {
	return fmt.Sprintf("provisioning:case:%s:lock", caseID)
}

// JobLockKey builds redis keys guarding singleton background jobs.
func JobLockKey(job string) string {
	return fmt.Sprintf("provisioning:job:%s:lock", job)
}
