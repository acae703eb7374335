package solana

// Concurrent merkle tree layout.
const (
	treeHeaderSize  = 2 + 54 // account type, version and header body
	treeCountersLen = 3 * 8  // sequence number, active index, buffer size
)

// supportedShapes lists the (depth, buffer) pairs the compression program
// accepts.
var supportedShapes = map[[2]int]struct{}{
	{3, 8}: {}, {5, 8}: {},
	{14, 64}: {}, {14, 256}: {}, {14, 1024}: {}, {14, 2048}: {},
	{15, 64}: {}, {16, 64}: {}, {17, 64}: {}, {18, 64}: {}, {19, 64}: {},
	{20, 64}: {}, {20, 256}: {}, {20, 1024}: {}, {20, 2048}: {},
	{24, 64}: {}, {24, 256}: {}, {24, 512}: {}, {24, 1024}: {}, {24, 2048}: {},
	{26, 512}: {}, {26, 1024}: {}, {26, 2048}: {},
	{30, 512}: {}, {30, 1024}: {}, {30, 2048}: {},
}

// Supported reports whether the compression program accepts the shape.
func Supported(depth, buffer int) bool {
	_, ok := supportedShapes[[2]int{depth, buffer}]
	return ok
}

// TreeAccountSize returns the byte size of a tree account without canopy.
func TreeAccountSize(depth, buffer int) uint64 {
	path := 32*depth + 32 + 4 + 4 // proof, leaf, index, padding
	changelog := 32*depth + 32 + 4 + 4
	return uint64(treeHeaderSize + treeCountersLen + buffer*changelog + path) //nolint:gosec // small positive values
}
