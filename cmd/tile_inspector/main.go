// tile_inspector prints the properties of the registered GEMM fragments and
// shared-memory tile layouts: shapes, thread mapping, replication, vector
// width and memory footprint.
//
// Examples:
//
//	tile_inspector -list
//	tile_inspector -fragment gemm.fragment.c -block_m 64 -block_n 64 -warp_m 32 -warp_n 32
//	tile_inspector -shared gemm.shared.ab -stride 64 -continuous 64 -element_size 16 -k_factor 2
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"

	"github.com/gomlx/tilegen/ir"
	"github.com/gomlx/tilegen/layout"
)

var (
	flagList     = flag.Bool("list", false, "Lists the registered fragment and shared-memory builders.")
	flagFragment = flag.String("fragment", "", "Builds and reports the named register-tile fragment. "+
		"See -list for the available names.")
	flagShared = flag.String("shared", "", "Builds and reports the named shared-memory tile layout. "+
		"See -list for the available names.")
	flagInverse = flag.Bool("inverse", false, "Also prints the inverse mapping of the reported layout.")

	flagBlockM      = flag.Int("block_m", 64, "Block tile size along M.")
	flagBlockN      = flag.Int("block_n", 64, "Block tile size along N.")
	flagBlockK      = flag.Int("block_k", 32, "Block tile size along K.")
	flagWarpM       = flag.Int("warp_m", 32, "Warp tile size along M.")
	flagWarpN       = flag.Int("warp_n", 32, "Warp tile size along N.")
	flagTransposed  = flag.Bool("transposed", false, "Selects the transposed atom where the builder distinguishes.")
	flagStride      = flag.Int("stride", 64, "Shared tile extent along the strided (slow) dimension.")
	flagContinuous  = flag.Int("continuous", 64, "Shared tile extent along the continuous (fast) dimension.")
	flagElementSize = flag.Int("element_size", 16, "Element width in bits: 8, 16, 32 or 64.")
	flagKFactor     = flag.Int("k_factor", 2, "1 when K is the outer dimension of the tile, 2 when inner.")
	flagIsA         = flag.Bool("is_a", true, "Reports the A operand (as opposed to B) where the builder distinguishes.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if !*flagList && *flagFragment == "" && *flagShared == "" {
		flag.Usage()
		os.Exit(1)
	}
	err := exceptions.TryCatch[error](func() {
		if *flagList {
			listBuilders()
		}
		if *flagFragment != "" {
			reportFragment(*flagFragment)
		}
		if *flagShared != "" {
			reportShared(*flagShared)
		}
	})
	if err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func listBuilders() {
	fmt.Println(titleStyle.Render("Registered Builders"))
	table := newPlainTable(true)
	table.Row("kind", "name")
	for _, name := range layout.FragmentNames() {
		table.Row("fragment", name)
	}
	for _, name := range layout.SharedNames() {
		table.Row("shared", name)
	}
	fmt.Println(table.Render())
}

func fragmentParams() layout.FragmentParams {
	return layout.FragmentParams{
		BlockM:      *flagBlockM,
		BlockN:      *flagBlockN,
		BlockK:      *flagBlockK,
		WarpM:       *flagWarpM,
		WarpN:       *flagWarpN,
		ElementSize: *flagElementSize,
		Transposed:  *flagTransposed,
	}
}

func reportFragment(name string) {
	fragment := layout.BuildFragment(name, fragmentParams())
	fmt.Println(titleStyle.Render("Fragment " + name))
	table := newPlainTable(false)
	table.Row("iteration shape", shapeString(fragment.InputShape()))
	table.Row("register shape", shapeString(fragment.OutputShape()))
	table.Row("threads", humanize.Comma(int64(fragment.ThreadExtent())))
	table.Row("replication", strconv.Itoa(fragment.ReplicateExtent()))
	table.Row("thread id", fragment.Thread().String())
	table.Row("registers / thread", humanize.Comma(int64(registersPerThread(fragment))))
	fmt.Println(table.Render())
	if *flagInverse {
		fmt.Println(titleStyle.Render("Inverse"))
		fmt.Println(fragment.Inverse())
	}
}

func reportShared(name string) {
	tile := layout.BuildShared(name, layout.SharedParams{
		Stride:      *flagStride,
		Continuous:  *flagContinuous,
		ElementSize: *flagElementSize,
		KFactor:     *flagKFactor,
		IsA:         *flagIsA,
	})
	buffer := &ir.Buffer{
		Name:  "smem",
		DType: dtypeForBits(*flagElementSize),
		Shape: tile.OutputShape(),
		Scope: ir.MemShared,
	}
	fmt.Println(titleStyle.Render("Shared Tile " + name))
	table := newPlainTable(false)
	table.Row("tile shape", shapeString(tile.InputShape()))
	table.Row("storage shape", shapeString(tile.OutputShape()))
	table.Row("element type", buffer.DType.String())
	table.Row("vector width", strconv.Itoa(tile.VectorSize()))
	table.Row("footprint", humanize.Bytes(uint64(buffer.Memory())))
	fmt.Println(table.Render())
	if *flagInverse {
		fmt.Println(titleStyle.Render("Inverse"))
		fmt.Println(tile.Inverse())
	}
}

func registersPerThread(fragment *layout.Fragment) int {
	size := 1
	for _, dim := range fragment.OutputShape() {
		size *= dim
	}
	return size
}

func shapeString(shape []int) string {
	s := "["
	for i, dim := range shape {
		if i > 0 {
			s += ", "
		}
		s += strconv.Itoa(dim)
	}
	return s + "]"
}

func dtypeForBits(bits int) dtypes.DType {
	switch bits {
	case 8:
		return dtypes.Int8
	case 16:
		return dtypes.Float16
	case 32:
		return dtypes.Float32
	case 64:
		return dtypes.Float64
	default:
		exceptions.Panicf("unsupported element size %d bits (want 8, 16, 32 or 64)", bits)
	}
	return dtypes.InvalidDType
}
