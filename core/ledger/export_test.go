package ledger

// SetExportLimit lowers the export cap for tests.
func (svc *Service) SetExportLimit(n int) { svc.exportLimit = n }
