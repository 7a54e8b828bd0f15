// Command ctap2d runs a CTAP2 software authenticator. By default it serves
// requests fed through an in-memory loopback transport; pass -hybrid to
// instead pair with a phone over caBLE v2 (QR code, BLE discovery, and an
// encrypted tunnel connection).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ctap2d/pkg/attestation"
	"ctap2d/pkg/ble"
	"ctap2d/pkg/cborcodec"
	"ctap2d/pkg/cose"
	"ctap2d/pkg/ctap2"
	"ctap2d/pkg/ctaphid"
	"ctap2d/pkg/hybrid"
	"ctap2d/pkg/qrcode"
	"ctap2d/pkg/server"
	"ctap2d/pkg/storage"
	"ctap2d/pkg/tunnel"
)

func main() {
	var (
		hybridMode = flag.Bool("hybrid", false, "pair over caBLE v2 hybrid transport instead of the loopback transport")
		output     = flag.String("output", "attestation.json", "file to write a completed attestation record to")
		timeout    = flag.Duration("timeout", 5*time.Minute, "overall operation timeout")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("ctap2d: received signal %v, shutting down", sig)
		cancel()
	}()

	service := ctap2.NewService(cose.NewFacade(), storage.NewMemoryStore())

	var err error
	if *hybridMode {
		err = runHybrid(ctx, service, *output)
	} else {
		err = runLoopback(ctx, service)
	}

	if err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		log.Printf("ctap2d: %v", err)
		os.Exit(1)
	}
	log.Println("ctap2d: stopped")
}

// runLoopback drives the server against an in-memory transport, standing in
// for the OS-specific virtual-HID device integration point.
func runLoopback(ctx context.Context, service *ctap2.Service) error {
	transport := ctaphid.NewLoopbackTransport()
	srv := server.New(transport, service, log.Default())
	log.Println("ctap2d: serving requests over the loopback transport")
	return srv.Run(ctx)
}

// runHybrid pairs with a phone over caBLE v2: display a QR code, scan for
// the phone's BLE advertisement, dial the tunnel service, and serve CTAP2
// requests over the resulting encrypted connection.
func runHybrid(ctx context.Context, service *ctap2.Service, outputFile string) error {
	qrData, err := qrcode.GenerateQRData()
	if err != nil {
		return fmt.Errorf("ctap2d: generate QR data: %w", err)
	}
	if err := qrcode.DisplayQR(qrData); err != nil {
		return fmt.Errorf("ctap2d: display QR code: %w", err)
	}

	scanner, err := ble.NewScanner(qrData.QRSecret)
	if err != nil {
		return fmt.Errorf("ctap2d: create BLE scanner: %w", err)
	}

	log.Println("ctap2d: waiting for phone to advertise after QR scan...")
	tunnelInfo, err := scanner.WaitForTunnelAdvertisement(ctx)
	if err != nil {
		return fmt.Errorf("ctap2d: waiting for BLE advertisement: %w", err)
	}
	log.Printf("ctap2d: received tunnel routing (tunnel=%s routing=%x)", tunnelInfo.TunnelURL, tunnelInfo.RoutingID)

	tunnelClient, err := tunnel.NewClient(tunnelInfo.TunnelURL, qrData.PrivateKey, qrData.PublicKey, qrData.QRSecret)
	if err != nil {
		return fmt.Errorf("ctap2d: create tunnel client: %w", err)
	}
	tunnelClient.SetTunnelInfo(tunnelInfo.RoutingID, tunnelInfo.ConnectionNonce)

	conn, err := tunnelClient.WaitForConnection(ctx)
	if err != nil {
		return fmt.Errorf("ctap2d: establish tunnel connection: %w", err)
	}
	defer conn.Close()

	transport := hybrid.New(conn)
	srv := server.New(transport, service, log.Default())
	srv.SetResponseHook(attestationHook(outputFile))

	log.Println("ctap2d: serving requests over the hybrid transport")
	if err := srv.Run(ctx); err != nil {
		return err
	}

	log.Printf("ctap2d: session ended, attestation records (if any) were written to %s", outputFile)
	return nil
}

// attestationHook writes each successful MakeCredential response to
// outputFile as it completes (D5). Each write replaces the file's previous
// contents, so the file holds the most recent record.
func attestationHook(outputFile string) func(ctap2.CommandByte, []byte, ctap2.Response) {
	var sequence int
	return func(cmd ctap2.CommandByte, params []byte, resp ctap2.Response) {
		if cmd != ctap2.CmdMakeCredential || resp.Status != ctap2.StatusSuccess {
			return
		}

		var req ctap2.MakeCredentialRequest
		if err := cborcodec.Unmarshal(params, &req); err != nil {
			log.Printf("ctap2d: attestation sink: decode request: %v", err)
			return
		}
		var mcResp ctap2.MakeCredentialResponse
		if err := cborcodec.Unmarshal(resp.Body, &mcResp); err != nil {
			log.Printf("ctap2d: attestation sink: decode response: %v", err)
			return
		}

		sequence++
		requestID := []byte(fmt.Sprintf("hybrid-%d", sequence))
		record := attestation.NewRecord(requestID, req.ClientDataHash, mcResp)
		if err := attestation.SaveToFile(record, outputFile); err != nil {
			log.Printf("ctap2d: attestation sink: %v", err)
		}
	}
}
