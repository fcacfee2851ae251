package pricing

// defaultTypes is the built-in cost table, matching the provider's published
// shared (cx), dedicated-vCPU (cpx/ccx) and bare-metal (ax) lines. Override
// with a catalog file when prices drift.
var defaultTypes = []ServerType{
	{Name: "cx11", Family: "cx", Cores: 1, MemoryGB: 2, DiskGB: 20, MonthlyEUR: 3.29},
	{Name: "cx21", Family: "cx", Cores: 2, MemoryGB: 4, DiskGB: 40, MonthlyEUR: 5.39},
	{Name: "cx31", Family: "cx", Cores: 4, MemoryGB: 8, DiskGB: 80, MonthlyEUR: 10.49},
	{Name: "cx41", Family: "cx", Cores: 8, MemoryGB: 16, DiskGB: 160, MonthlyEUR: 17.49},
	{Name: "cpx11", Family: "cpx", Cores: 2, MemoryGB: 2, DiskGB: 40, MonthlyEUR: 3.85},
	{Name: "cpx21", Family: "cpx", Cores: 3, MemoryGB: 4, DiskGB: 80, MonthlyEUR: 7.19},
	{Name: "cpx31", Family: "cpx", Cores: 4, MemoryGB: 8, DiskGB: 160, MonthlyEUR: 13.49},
	{Name: "cpx41", Family: "cpx", Cores: 8, MemoryGB: 16, DiskGB: 240, MonthlyEUR: 24.49},
	{Name: "ccx13", Family: "ccx", Cores: 2, MemoryGB: 8, DiskGB: 80, MonthlyEUR: 12.49},
	{Name: "ccx23", Family: "ccx", Cores: 4, MemoryGB: 16, DiskGB: 160, MonthlyEUR: 22.49},
	{Name: "ccx33", Family: "ccx", Cores: 8, MemoryGB: 32, DiskGB: 240, MonthlyEUR: 42.49},
	{Name: "ax41-nvme", Family: "ax", Cores: 6, MemoryGB: 64, DiskGB: 512, MonthlyEUR: 46.41},
}

// DefaultCatalog returns the built-in cost table.
func DefaultCatalog() *Catalog {
	return NewCatalog(defaultTypes)
}
