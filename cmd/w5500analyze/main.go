// Command w5500analyze decodes Saleae Logic captures of a W5500 SPI bus into
// register transactions and reports how VERSIONR reads would be treated by
// the w5500patch read rule.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
	"github.com/soypat/w5500patch"
	"github.com/soypat/w5500patch/wiz"
)

type Options struct {
	OmitRead  bool
	OmitWrite bool
	// OnlyCommon keeps only common register block transactions.
	OnlyCommon bool
	Rule       w5500patch.Rule
}

func main() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(handler))
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "w5500analyze - Process Binary Saleae digital data files corresponding to W5500 transactions.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	sdo := flag.String("f-sdo", "digital_1.bin", "Input filename: SPI SDO (MOSI) data.")
	sdi := flag.String("f-sdi", "digital_3.bin", "Input filename: SPI SDI (MISO) data.")
	enable := flag.String("f-cs", "digital_0.bin", "Input filename: SPI CS/SS data.")
	clk := flag.String("f-clk", "digital_2.bin", "Input filename: SPI CLK data.")
	output := flag.String("o", "", "Output filename of W5500 transactions. Defaults to stdout.")
	omitRead := flag.Bool("omit-read", false, "Choose to omit read transactions in output.")
	omitWrite := flag.Bool("omit-write", false, "Choose to omit write transactions in output.")
	onlyCommon := flag.Bool("common", false, "Only output common register block transactions.")
	flag.Parse()
	opts := Options{
		OmitRead:   *omitRead,
		OmitWrite:  *omitWrite,
		OnlyCommon: *onlyCommon,
		Rule:       w5500patch.DefaultRule(),
	}
	if opts.OmitRead && opts.OmitWrite {
		log.Fatal("cannot omit both read and write transactions")
	}
	start := time.Now()
	if err := opts.run(*sdo, *sdi, *enable, *clk, *output); err != nil {
		log.Fatal(err.Error())
	}
	log.Println("finished in", time.Since(start))
}

func (opts *Options) run(sdo, sdi, enable, clk, output string) error {
	captures, err := processSpiFiles(sdo, sdi, clk, enable)
	if err != nil {
		return err
	}
	w := io.Writer(os.Stdout)
	if output != "" {
		fp, err := os.Create(output)
		if err != nil {
			return err
		}
		defer fp.Close()
		w = fp
	}
	txs := opts.decode(captures)
	sum, err := opts.write(w, txs)
	if err != nil {
		return err
	}
	slog.Info("w5500analyze:summary",
		slog.Int("frames", len(captures)),
		slog.Int("transactions", len(txs)),
		slog.Int("versionr-reads", sum.versionReads),
		slog.Int("would-patch", sum.patches),
		slog.Int("malformed", sum.malformed),
	)
	return nil
}

func processSpiFiles(fsdo, fsdi, fclk, fenable string) ([]capture, error) {
	var files [4]*saleae.DigitalFile
	for i, name := range []string{fsdo, fsdi, fclk, fenable} {
		df, err := opendigital(name)
		if err != nil {
			return nil, err
		}
		files[i] = df
	}
	spi := analyzers.SPI{}
	txs, _ := spi.Scan(files[2], files[3], files[0], files[1])
	captures := make([]capture, len(txs))
	for i := range txs {
		captures[i] = capture{
			SDO:   txs[i].SDO,
			SDI:   txs[i].SDI,
			Start: txs[i].StartTime(),
		}
	}
	return captures, nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return saleae.ReadDigitalFile(fp)
}

// capture is a single chip select window.
type capture struct {
	SDO   []byte
	SDI   []byte
	Start float64
}

type w5500tx struct {
	Num    int
	Header wiz.Header
	// Data is written data for writes and read data for reads.
	Data     []byte
	Start    float64
	Decision w5500patch.Decision
	// Malformed is set when the window was shorter than a frame header.
	Malformed bool
}

func (tx *w5500tx) String() string {
	if tx.Malformed {
		return fmt.Sprintf("t=%f malformed frame %#x", tx.Start, tx.Data)
	}
	dir := "R"
	if tx.Header.IsWrite() {
		dir = "W"
	}
	s := fmt.Sprintf("x%-3d %s %-10s off=%#04x len=%3d data=%#x", tx.Num, dir, tx.Header.Block().String(), tx.Header.Offset, len(tx.Data), tx.Data)
	if tx.Decision == w5500patch.DecisionPatch || tx.Decision == w5500patch.DecisionSupported || tx.Decision == w5500patch.DecisionUnknownValue {
		s += " versionr=" + tx.Decision.String()
	}
	return s
}

// decode splits capture windows into header and data phase. Consecutive
// identical transactions (register polling) are collapsed into one.
func (opts *Options) decode(captures []capture) (txs []w5500tx) {
	for i := 0; i < len(captures); i++ {
		tx := decodeCapture(captures[i], opts.Rule)
		tx.Num = 1
		for j := i + 1; j < len(captures); j++ {
			next := decodeCapture(captures[j], opts.Rule)
			if next.Malformed || tx.Malformed || next.Header != tx.Header || !bytes.Equal(next.Data, tx.Data) {
				break
			}
			tx.Num++
			i = j
		}
		if opts.skip(&tx) {
			continue
		}
		txs = append(txs, tx)
	}
	return txs
}

func decodeCapture(c capture, rule w5500patch.Rule) w5500tx {
	hdr, data, err := wiz.DecodeHeader(c.SDO)
	if err != nil {
		return w5500tx{Malformed: true, Data: c.SDO, Start: c.Start}
	}
	if !hdr.IsWrite() {
		data = nil
		if len(c.SDI) > wiz.HeaderLen {
			data = c.SDI[wiz.HeaderLen:]
		}
	}
	tx := w5500tx{Header: hdr, Data: data, Start: c.Start, Decision: w5500patch.DecisionLength}
	if !hdr.IsWrite() && hdr.Block().IsCommon() {
		tx.Decision = rule.Decide(uint32(hdr.Offset), uint32(hdr.Control), data)
	}
	return tx
}

func (opts *Options) skip(tx *w5500tx) bool {
	if tx.Malformed {
		return false
	}
	write := tx.Header.IsWrite()
	return (opts.OmitRead && !write) || (opts.OmitWrite && write) ||
		(opts.OnlyCommon && !tx.Header.Block().IsCommon())
}

type summary struct {
	versionReads int
	patches      int
	malformed    int
}

func (opts *Options) write(w io.Writer, txs []w5500tx) (sum summary, err error) {
	for i := range txs {
		tx := &txs[i]
		switch {
		case tx.Malformed:
			sum.malformed++
		case tx.Decision == w5500patch.DecisionPatch:
			sum.patches += tx.Num
			sum.versionReads += tx.Num
		case tx.Decision == w5500patch.DecisionSupported || tx.Decision == w5500patch.DecisionUnknownValue:
			sum.versionReads += tx.Num
		}
		_, err = fmt.Fprintln(w, tx.String())
		if err != nil {
			return sum, err
		}
	}
	return sum, nil
}
