package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chenzhekl/goply"
	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	lzf "github.com/zhuyie/golzf"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/fmfi-uk/rsscan/logging"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

// NewFromFile returns a pointcloud read in from the given file. Positions are kept in the file's
// units, which for scans written by the reconstruction pipeline are meters.
func NewFromFile(fn string, logger logging.Logger) (*PointCloud, error) {
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".ply":
		//nolint:gosec
		f, err := os.Open(fn)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		return ReadPLY(f)
	case ".pcd":
		//nolint:gosec
		f, err := os.Open(fn)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		return ReadPCD(f)
	case ".las":
		return NewFromLASFile(fn, logger)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// ReadPLY reads the vertex element of a PLY file. Vertex colors are used when the file has
// red, green and blue properties.
func ReadPLY(in io.Reader) (cloud *PointCloud, err error) {
	// the ply parser reports malformed input by panicking
	defer func() {
		if r := recover(); r != nil {
			cloud = nil
			err = errors.Errorf("malformed ply file: %v", r)
		}
	}()
	ply := goply.New(in)
	vertices := ply.Elements("vertex")
	if len(vertices) == 0 {
		return Empty(), nil
	}

	_, hasColor := vertices[0]["red"]
	positions := make([]r3.Vector, 0, len(vertices))
	var colors []color.NRGBA
	if hasColor {
		colors = make([]color.NRGBA, 0, len(vertices))
	}
	for i, vertex := range vertices {
		x, okX := plyFloat(vertex["x"])
		y, okY := plyFloat(vertex["y"])
		z, okZ := plyFloat(vertex["z"])
		if !okX || !okY || !okZ {
			return nil, errors.Errorf("ply vertex %d has no numeric x, y, z", i)
		}
		positions = append(positions, r3.Vector{X: x, Y: y, Z: z})
		if hasColor {
			colors = append(colors, color.NRGBA{
				R: plyChannel(vertex["red"]),
				G: plyChannel(vertex["green"]),
				B: plyChannel(vertex["blue"]),
				A: 255,
			})
		}
	}
	return NewFromSlices(positions, colors)
}

func plyFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case int8:
		return float64(n), true
	case uint8:
		return float64(n), true
	case int16:
		return float64(n), true
	case uint16:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}

// plyChannel converts a color property; float channels are expected in [0,1].
func plyChannel(v interface{}) uint8 {
	switch n := v.(type) {
	case float32:
		return uint8(math.Round(math.Max(0, math.Min(1, float64(n))) * 255))
	case float64:
		return uint8(math.Round(math.Max(0, math.Min(1, n)) * 255))
	default:
		f, _ := plyFloat(v)
		return uint8(math.Max(0, math.Min(255, f)))
	}
}

// NewFromLASFile returns a point cloud from reading a LAS file.
func NewFromLASFile(fn string, logger logging.Logger) (*PointCloud, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	positions := make([]r3.Vector, 0, lf.Header.NumberPoints)
	var colors []color.NRGBA
	hasColor := lf.Header.PointFormatID == 2
	if hasColor {
		colors = make([]color.NRGBA, 0, lf.Header.NumberPoints)
	}
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, err
		}
		data := p.PointData()
		positions = append(positions, r3.Vector{X: data.X, Y: data.Y, Z: data.Z})
		if !hasColor {
			continue
		}
		c := color.NRGBA{A: 255}
		if rgb := p.RgbData(); rgb != nil {
			c.R = uint8(rgb.Red / 256)
			c.G = uint8(rgb.Green / 256)
			c.B = uint8(rgb.Blue / 256)
		}
		colors = append(colors, c)
	}
	logger.Debugw("read las file", "path", fn, "points", len(positions))
	return NewFromSlices(positions, colors)
}

func colorToPCDInt(c color.NRGBA) int {
	x := 0
	x |= (int(c.R) << 16)
	x |= (int(c.G) << 8)
	x |= (int(c.B) << 0)
	return x
}

func pcdIntToColor(c int) color.NRGBA {
	r := uint8(0xFF & (c >> 16))
	g := uint8(0xFF & (c >> 8))
	b := uint8(0xFF & (c >> 0))
	return color.NRGBA{r, g, b, 255}
}

// ToPCD writes the cloud in the PCD format.
func ToPCD(cloud *PointCloud, out io.Writer, outputType PCDType) error {
	hasColor := cloud.MetaData().HasColor
	var header strings.Builder
	header.WriteString("VERSION .7\n")
	if hasColor {
		header.WriteString("FIELDS x y z rgb\nSIZE 4 4 4 4\nTYPE F F F I\nCOUNT 1 1 1 1\n")
	} else {
		header.WriteString("FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n")
	}
	fmt.Fprintf(&header, "WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\n", cloud.Size(), cloud.Size())
	switch outputType {
	case PCDBinary:
		header.WriteString("DATA binary\n")
	case PCDAscii:
		header.WriteString("DATA ascii\n")
	case PCDCompressed:
		header.WriteString("DATA binary_compressed\n")
	default:
		return errors.Errorf("unknown pcd output type %d", outputType)
	}
	if _, err := io.WriteString(out, header.String()); err != nil {
		return err
	}
	if outputType == PCDCompressed {
		return writePCDCompressed(cloud, out, hasColor)
	}

	var err error
	cloud.Iterate(func(_ int, pos r3.Vector, c color.NRGBA) bool {
		switch outputType {
		case PCDBinary:
			buf := make([]byte, 12, 16)
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(pos.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(pos.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(pos.Z)))
			if hasColor {
				buf = binary.LittleEndian.AppendUint32(buf, uint32(colorToPCDInt(c)))
			}
			_, err = out.Write(buf)
		default:
			if hasColor {
				_, err = fmt.Fprintf(out, "%f %f %f %d\n", pos.X, pos.Y, pos.Z, colorToPCDInt(c))
			} else {
				_, err = fmt.Fprintf(out, "%f %f %f\n", pos.X, pos.Y, pos.Z)
			}
		}
		return err == nil
	})
	return err
}

// WriteToPCDFile writes the cloud to a binary PCD file.
func WriteToPCDFile(cloud *PointCloud, fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := ToPCD(cloud, w, PCDBinary); err != nil {
		return err
	}
	return w.Flush()
}

type pcdFieldType int

const (
	pcdPointOnly  pcdFieldType = 3
	pcdPointColor pcdFieldType = 4
)

type pcdHeader struct {
	fields pcdFieldType
	size   []uint64
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Split(value, " ")
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch value {
		case "x y z":
			header.fields = pcdPointOnly
		case "x y z rgb":
			header.fields = pcdPointColor
		default:
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE":
		if len(tokens) != int(header.fields) {
			return errors.New("unexpected number of fields in SIZE line")
		}
		header.size = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.size[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil {
				return errors.Errorf("invalid SIZE field %s", token)
			}
			if header.size[i] != 4 {
				return errors.Errorf("unsupported SIZE %d, only 4 byte fields are read", header.size[i])
			}
		}
	case "TYPE", "COUNT":
		if len(tokens) != int(header.fields) {
			return errors.Errorf("unexpected number of fields in %s line", name)
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		var points uint64
		points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", points, header.width*header.height)
		}
		header.points = points
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}

	return nil
}

// ReadPCD reads an ascii or binary PCD file with x y z and optional packed rgb fields.
func ReadPCD(inRaw io.Reader) (*PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}

	positions := make([]r3.Vector, 0, header.points)
	var colors []color.NRGBA
	if header.fields == pcdPointColor {
		colors = make([]color.NRGBA, 0, header.points)
	}
	read := readPCDAsciiPoint
	switch header.data {
	case PCDAscii:
	case PCDBinary:
		read = readPCDBinaryPoint
	case PCDCompressed:
		return readPCDCompressed(in, header)
	}
	for i := 0; i < int(header.points); i++ {
		vals, err := read(in, header)
		if err != nil {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		positions = append(positions, r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]})
		if colors != nil {
			colors = append(colors, pcdIntToColor(int(vals[3])))
		}
	}
	return NewFromSlices(positions, colors)
}

func readPCDAsciiPoint(in *bufio.Reader, header pcdHeader) ([]float64, error) {
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, err
	}
	tokens := strings.Fields(line)
	if len(tokens) != int(header.fields) {
		return nil, errors.New("unexpected number of fields")
	}
	point := make([]float64, len(tokens))
	for j, token := range tokens {
		point[j], err = strconv.ParseFloat(token, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid field %s", token)
		}
	}
	return point, nil
}

func readPCDBinaryPoint(in *bufio.Reader, header pcdHeader) ([]float64, error) {
	point := make([]float64, int(header.fields))
	buf := make([]byte, 4)
	for j := range point {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, err
		}
		bits := binary.LittleEndian.Uint32(buf)
		if j < 3 {
			point[j] = float64(math.Float32frombits(bits))
		} else {
			point[j] = float64(bits)
		}
	}
	return point, nil
}

// writePCDCompressed writes the lzf block of a binary_compressed file: compressed and raw sizes
// followed by the fields laid out one after another (all x, then all y, ...).
func writePCDCompressed(cloud *PointCloud, out io.Writer, hasColor bool) error {
	fields := int(pcdPointOnly)
	if hasColor {
		fields = int(pcdPointColor)
	}
	n := cloud.Size()
	raw := make([]byte, 4*fields*n)
	cloud.Iterate(func(i int, pos r3.Vector, c color.NRGBA) bool {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(float32(pos.X)))
		binary.LittleEndian.PutUint32(raw[4*(n+i):], math.Float32bits(float32(pos.Y)))
		binary.LittleEndian.PutUint32(raw[4*(2*n+i):], math.Float32bits(float32(pos.Z)))
		if hasColor {
			binary.LittleEndian.PutUint32(raw[4*(3*n+i):], uint32(colorToPCDInt(c)))
		}
		return true
	})

	var compressed []byte
	if len(raw) > 0 {
		compressed = make([]byte, len(raw)+len(raw)/16+64)
		size, err := lzf.Compress(raw, compressed)
		if err != nil {
			return errors.Wrap(err, "compressing pcd data")
		}
		compressed = compressed[:size]
	}
	sizes := make([]byte, 8)
	binary.LittleEndian.PutUint32(sizes, uint32(len(compressed)))
	binary.LittleEndian.PutUint32(sizes[4:], uint32(len(raw)))
	if _, err := out.Write(sizes); err != nil {
		return err
	}
	_, err := out.Write(compressed)
	return err
}

func readPCDCompressed(in *bufio.Reader, header pcdHeader) (*PointCloud, error) {
	sizes := make([]byte, 8)
	if _, err := io.ReadFull(in, sizes); err != nil {
		return nil, errors.Wrap(err, "reading compressed sizes")
	}
	compressedSize := binary.LittleEndian.Uint32(sizes)
	rawSize := binary.LittleEndian.Uint32(sizes[4:])
	n := int(header.points)
	fields := int(header.fields)
	if int(rawSize) != 4*fields*n {
		return nil, errors.Errorf("compressed block holds %d bytes, want %d", rawSize, 4*fields*n)
	}

	raw := make([]byte, rawSize)
	if rawSize > 0 {
		compressed := make([]byte, compressedSize)
		if _, err := io.ReadFull(in, compressed); err != nil {
			return nil, errors.Wrap(err, "reading compressed data")
		}
		size, err := lzf.Decompress(compressed, raw)
		if err != nil {
			return nil, errors.Wrap(err, "decompressing pcd data")
		}
		if size != len(raw) {
			return nil, errors.Errorf("decompressed %d bytes, want %d", size, len(raw))
		}
	}

	field := func(f, i int) uint32 {
		return binary.LittleEndian.Uint32(raw[4*(f*n+i):])
	}
	positions := make([]r3.Vector, n)
	var colors []color.NRGBA
	if header.fields == pcdPointColor {
		colors = make([]color.NRGBA, n)
	}
	for i := 0; i < n; i++ {
		positions[i] = r3.Vector{
			X: float64(math.Float32frombits(field(0, i))),
			Y: float64(math.Float32frombits(field(1, i))),
			Z: float64(math.Float32frombits(field(2, i))),
		}
		if colors != nil {
			colors[i] = pcdIntToColor(int(field(3, i)))
		}
	}
	return NewFromSlices(positions, colors)
}
