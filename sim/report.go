package sim

import (
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/ystepanoff/nrfmesh/transport"
)

type DeviceReport struct {
	ID         int
	Sent       int
	SendErrors int
	Received   int
	Dropped    uint32 // datagram queue overflow
	Radio      transport.Stats
}

type Report struct {
	Devices     []DeviceReport
	Elapsed     time.Duration
	EtherFrames uint64
}

func (n *Network) report(elapsed time.Duration) *Report {
	rep := &Report{Elapsed: elapsed, EtherFrames: n.Ether.Frames()}
	for _, d := range n.active() {
		rep.Devices = append(rep.Devices, DeviceReport{
			ID:         d.ID,
			Sent:       int(d.sent.Load()),
			SendErrors: int(d.sendErrors.Load()),
			Received:   len(d.Received()),
			Dropped:    d.Datagram.Dropped(),
			Radio:      d.Radio.Stats(),
		})
	}
	return rep
}

func (r *Report) TotalSent() int {
	total := 0
	for _, d := range r.Devices {
		total += d.Sent
	}
	return total
}

func (r *Report) TotalReceived() int {
	total := 0
	for _, d := range r.Devices {
		total += d.Received
	}
	return total
}

// WriteTable renders one row per simulated device.
func (r *Report) WriteTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Device", "Sent", "Send errors", "Received", "Dropped", "CRC", "Duplicates", "Group", "Malformed"})
	for _, d := range r.Devices {
		table.Append([]string{
			strconv.Itoa(d.ID),
			strconv.Itoa(d.Sent),
			strconv.Itoa(d.SendErrors),
			strconv.Itoa(d.Received),
			strconv.FormatUint(uint64(d.Dropped+d.Radio.Dropped()), 10),
			strconv.FormatUint(uint64(d.Radio.CRCErrors), 10),
			strconv.FormatUint(uint64(d.Radio.Duplicates), 10),
			strconv.FormatUint(uint64(d.Radio.GroupMismatch), 10),
			strconv.FormatUint(uint64(d.Radio.Malformed), 10),
		})
	}
	table.SetFooter([]string{"", strconv.Itoa(r.TotalSent()), "", strconv.Itoa(r.TotalReceived()), "", "", "", "", ""})
	table.Render()
}
