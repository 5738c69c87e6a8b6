package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/blob-publisher/cmd/flags"
	"github.com/ruteri/blob-publisher/cmd/publishercommon"
	"github.com/ruteri/blob-publisher/contracts"
	"github.com/ruteri/blob-publisher/interfaces"
	"github.com/ruteri/blob-publisher/upload"
	"github.com/urfave/cli/v2"
)

var flagEpochs = &cli.UintFlag{
	Name:  "epochs",
	Usage: "number of storage epochs, defaults to upload.default_epochs",
}
var flagDeletable = &cli.BoolFlag{
	Name:  "deletable",
	Usage: "register the blob as deletable by its owner",
}
var flagCheckpointOut = &cli.StringFlag{
	Name:  "checkpoint-out",
	Usage: "file to write the certification checkpoint to if certification fails",
}
var flagCheckpointFile = &cli.StringFlag{
	Name:  "checkpoint-file",
	Usage: "checkpoint JSON written by a failed upload",
}
var flagCheckpointID = &cli.StringFlag{
	Name:  "checkpoint-id",
	Usage: "id of a checkpoint in the configured archive",
}

func main() {
	appFlags := []cli.Flag{flags.LogServiceFlagFn("blob-publisher-cli")}
	appFlags = append(appFlags, flags.LogFlags...)
	appFlags = append(appFlags, flags.PublisherFlags...)

	app := &cli.App{
		Name:  "blob-publisher",
		Usage: "Upload blobs to the storage committee and certify them on the ledger",
		Flags: appFlags,
		Commands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "upload a file, - for stdin",
				ArgsUsage: "<file>",
				Flags:     []cli.Flag{flagEpochs, flagDeletable, flagCheckpointOut},
				Action: func(cCtx *cli.Context) error {
					c, err := NewClient(cCtx)
					if err != nil {
						return err
					}
					defer c.Close()
					return c.Upload(cCtx)
				},
			},
			{
				Name:  "resume",
				Usage: "retry certification from a checkpoint",
				Flags: []cli.Flag{flagCheckpointFile, flagCheckpointID},
				Action: func(cCtx *cli.Context) error {
					c, err := NewClient(cCtx)
					if err != nil {
						return err
					}
					defer c.Close()
					return c.Resume(cCtx)
				},
			},
			{
				Name:  "balance",
				Usage: "print gas and payment token balances of the uploading account",
				Action: func(cCtx *cli.Context) error {
					c, err := NewClient(cCtx)
					if err != nil {
						return err
					}
					defer c.Close()
					return c.Balance(cCtx)
				},
			},
			{
				Name:      "object",
				Usage:     "print a ledger object, decoding blob objects",
				ArgsUsage: "<object id>",
				Action: func(cCtx *cli.Context) error {
					c, err := NewClient(cCtx)
					if err != nil {
						return err
					}
					defer c.Close()
					return c.Object(cCtx)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type Client struct {
	*publishercommon.Publisher
	log *slog.Logger
	out io.Writer
}

func NewClient(cCtx *cli.Context) (*Client, error) {
	logger := flags.SetupLogger(cCtx)
	publisher, err := publishercommon.SetupPublisher(cCtx, logger)
	if err != nil {
		return nil, err
	}
	return &Client{Publisher: publisher, log: logger, out: os.Stdout}, nil
}

func (c *Client) Upload(cCtx *cli.Context) error {
	path := cCtx.Args().First()
	if path == "" {
		return errors.New("missing file argument")
	}

	data, err := readInput(path)
	if err != nil {
		return err
	}

	epochs := uint32(cCtx.Uint(flagEpochs.Name))
	if epochs == 0 {
		epochs = c.Config.DefaultEpochs()
	}

	run := c.Orchestrator.Start(cCtx.Context, upload.UploadRequest{
		Data:      data,
		Owner:     c.Owner,
		Epochs:    epochs,
		Deletable: cCtx.Bool(flagDeletable.Name),
	})
	for ev := range run.Events() {
		c.log.Info(ev.Status, "runId", ev.RunID, "phase", ev.Phase.String())
	}

	result, err := run.Wait()
	if err != nil {
		var uploadErr *upload.UploadError
		if errors.As(err, &uploadErr) && uploadErr.Resumable() {
			c.keepCheckpoint(cCtx, uploadErr.Checkpoint)
		}
		return err
	}

	if c.Archive != nil {
		if id, err := c.Archive.SaveReceipt(cCtx.Context, result); err != nil {
			c.log.Warn("could not archive receipt", "err", err)
		} else {
			c.log.Info("receipt archived", "receipt", id.String())
		}
	}
	return c.print(result)
}

func (c *Client) keepCheckpoint(cCtx *cli.Context, cp *upload.Checkpoint) {
	if out := cCtx.String(flagCheckpointOut.Name); out != "" {
		encoded, err := json.MarshalIndent(cp, "", "  ")
		if err == nil {
			err = os.WriteFile(out, encoded, 0o600)
		}
		if err != nil {
			c.log.Error("could not write checkpoint", "path", out, "err", err)
		} else {
			c.log.Info("checkpoint written, run resume to retry certification", "path", out)
		}
	}

	if c.Archive != nil {
		id, err := c.Archive.SaveCheckpoint(cCtx.Context, cp)
		if err != nil {
			c.log.Error("could not archive checkpoint", "err", err)
			return
		}
		c.log.Info("checkpoint archived, run resume to retry certification", "checkpoint", id.String())
	}
}

func (c *Client) Resume(cCtx *cli.Context) error {
	cp, err := c.loadCheckpoint(cCtx)
	if err != nil {
		return err
	}

	result, err := c.Orchestrator.ResumeCertification(cCtx.Context, *cp)
	if err != nil {
		return err
	}
	return c.print(result)
}

func (c *Client) loadCheckpoint(cCtx *cli.Context) (*upload.Checkpoint, error) {
	if path := cCtx.String(flagCheckpointFile.Name); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var cp upload.Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			return nil, fmt.Errorf("could not parse checkpoint %s: %w", path, err)
		}
		return &cp, nil
	}

	rawID := cCtx.String(flagCheckpointID.Name)
	if rawID == "" {
		return nil, fmt.Errorf("one of --%s or --%s is required", flagCheckpointFile.Name, flagCheckpointID.Name)
	}
	if c.Archive == nil {
		return nil, errors.New("no archive locations configured")
	}
	id, err := interfaces.ParseContentID(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid checkpoint id: %w", err)
	}
	return c.Archive.LoadCheckpoint(cCtx.Context, id)
}

type balanceOutput struct {
	Owner        string `json:"owner"`
	Gas          string `json:"gas"`
	PaymentToken string `json:"payment_token,omitempty"`
	Payment      string `json:"payment,omitempty"`
}

func (c *Client) Balance(cCtx *cli.Context) error {
	gas, err := c.Ledger.Balance(cCtx.Context, c.Owner, interfaces.NativeToken)
	if err != nil {
		return fmt.Errorf("could not read gas balance: %w", err)
	}
	out := balanceOutput{Owner: c.Owner.Hex(), Gas: gas.String()}

	token := c.Orchestrator.Config().PaymentToken
	if !token.IsNative() {
		payment, err := c.Ledger.Balance(cCtx.Context, c.Owner, token)
		if err != nil {
			return fmt.Errorf("could not read payment balance: %w", err)
		}
		out.PaymentToken = string(token)
		out.Payment = payment.String()
	}
	return c.print(out)
}

type objectOutput struct {
	ID   string                `json:"id"`
	Type string                `json:"type"`
	Blob *contracts.BlobObject `json:"blob,omitempty"`
	Data string                `json:"data,omitempty"`
}

func (c *Client) Object(cCtx *cli.Context) error {
	raw := cCtx.Args().First()
	if len(common.FromHex(raw)) != common.HashLength {
		return fmt.Errorf("invalid object id %q", raw)
	}

	obj, err := c.Ledger.Object(cCtx.Context, common.HexToHash(raw))
	if err != nil {
		return err
	}

	out := objectOutput{ID: obj.ID.Hex(), Type: obj.Type}
	if obj.Type == c.Orchestrator.Config().BlobObjectType {
		blob, err := contracts.DecodeBlobObject(obj.Data)
		if err != nil {
			return fmt.Errorf("could not decode blob object: %w", err)
		}
		out.Blob = blob
	} else {
		out.Data = common.Bytes2Hex(obj.Data)
	}
	return c.print(out)
}

func (c *Client) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
