package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/serialusb/serialusbd-go/core"
	"github.com/serialusb/serialusbd-go/memorywriter"
	"github.com/serialusb/serialusbd-go/usb"
)

// serialctl is a small driver for poking devices directly, without
// the bridge daemon. It opens one session, runs one operation and
// exits.

var rootCmd = &cobra.Command{
	Use:          "serialctl",
	Short:        "serialctl talks to serial-over-USB devices from the command line",
	SilenceUsage: true,
}

var (
	verboseLog   bool
	vendorFlags  []string
	emulatorPort int
	devicePath   string
	timeoutMS    int64
	endpointIn   uint8
	endpointOut  uint8
	receiveCount int
)

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verboseLog, "verbose", "v", false, "Enable verbose debug logging")
	rootCmd.PersistentFlags().StringArrayVar(&vendorFlags, "vendor", nil, "Vendor ID to match, e.g. 0x0403. Can be repeated; defaults to FTDI and STM32")
	rootCmd.PersistentFlags().IntVarP(&emulatorPort, "emulator", "e", 0, "Use a UDP device emulator on this port instead of USB")
	rootCmd.PersistentFlags().StringVarP(&devicePath, "device", "d", "", "Device path to open (default: first discovered)")
	rootCmd.PersistentFlags().Int64VarP(&timeoutMS, "timeout", "t", 1000, "Transfer timeout in milliseconds, 0 for none")
	rootCmd.PersistentFlags().Uint8Var(&endpointIn, "ep-in", 0x81, "IN endpoint address")
	rootCmd.PersistentFlags().Uint8Var(&endpointOut, "ep-out", 0x01, "OUT endpoint address")
	recvCmd.Flags().IntVarP(&receiveCount, "count", "n", 64, "Buffer size to receive into")
	pingCmd.Flags().IntVarP(&receiveCount, "count", "n", 64, "Buffer size to receive into")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(recvCmd)
	rootCmd.AddCommand(pingCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func vendors() ([]uint16, error) {
	if len(vendorFlags) == 0 {
		return []uint16{0x0403, 0x0483}, nil
	}
	res := make([]uint16, 0, len(vendorFlags))
	for _, v := range vendorFlags {
		id, err := strconv.ParseUint(v, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("bad vendor id %q: %w", v, err)
		}
		res = append(res, uint16(id))
	}
	return res, nil
}

func newCore() (*core.Core, func(), error) {
	var mirror io.Writer
	if verboseLog {
		mirror = os.Stderr
	}
	mw := memorywriter.New(2000, 200, true, mirror)

	var buses []core.Bus
	cleanup := func() {}

	if emulatorPort != 0 {
		e, err := usb.InitUDP([]int{emulatorPort}, mw)
		if err != nil {
			return nil, nil, err
		}
		buses = append(buses, e)
	} else {
		vs, err := vendors()
		if err != nil {
			return nil, nil, err
		}
		g, err := usb.InitGoUSB(mw, vs)
		if err != nil {
			return nil, nil, err
		}
		cleanup = g.Close
		buses = append(buses, g)
	}

	defaults := core.DefaultConfig()
	defaults.TimeoutMS = timeoutMS
	defaults.EndpointIn = endpointIn
	defaults.EndpointOut = endpointOut

	return core.New(usb.Init(buses...), mw, defaults), cleanup, nil
}

// withSession discovers, opens the selected device, runs fn and
// closes the session again.
func withSession(fn func(*core.Session) error) error {
	c, cleanup, err := newCore()
	if err != nil {
		return err
	}
	defer cleanup()

	infos, err := c.Discover(0)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return errors.New("no device found")
	}

	info := infos[0]
	if devicePath != "" {
		found := false
		for _, i := range infos {
			if i.Path == devicePath {
				info = i
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("device %q not attached", devicePath)
		}
	}

	sess, err := c.Open(info)
	if err != nil {
		return err
	}
	defer sess.Close()

	return fn(sess)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List attached devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cleanup, err := newCore()
		if err != nil {
			return err
		}
		defer cleanup()

		infos, err := c.Discover(0)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("no devices")
			return nil
		}
		for _, info := range infos {
			fmt.Printf("%s\t%04x:%04x\t%s\t%s\n",
				info.Path, info.VendorID, info.ProductID, info.Serial, info.Description)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <hex>",
	Short: "Send a hex-encoded payload to the device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := hex.DecodeString(args[0])
		if err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
		return withSession(func(sess *core.Session) error {
			return sess.Send(data)
		})
	},
}

var recvCmd = &cobra.Command{
	Use:   "recv",
	Short: "Receive bytes from the device and print them hex-encoded",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(sess *core.Session) error {
			buf := make([]byte, receiveCount)
			n, err := sess.Receive(buf)
			if err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(buf[:n]))
			return nil
		})
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping <hex>",
	Short: "Send a payload and print what comes back",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := hex.DecodeString(args[0])
		if err != nil {
			return fmt.Errorf("bad payload: %w", err)
		}
		return withSession(func(sess *core.Session) error {
			if err := sess.Send(data); err != nil {
				return err
			}
			buf := make([]byte, receiveCount)
			n, err := sess.Receive(buf)
			if err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(buf[:n]))
			return nil
		})
	},
}
