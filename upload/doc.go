/*
Package upload orchestrates publishing a blob: funding the uploading account,
encoding the payload, registering it on the ledger, distributing slivers to
the storage committee and certifying the blob with a quorum of signed
confirmations.

A run moves through the phases

	Idle -> Provisioning -> Encoding -> Registering -> Distributing -> Certifying -> Succeeded

and may move to Failed from any non-terminal phase. Transitions are checked
against a fixed table, so slivers are never sent before the blob object is
registered and a certificate is never submitted below quorum.

# Usage

	o, err := upload.NewOrchestrator(cfg, committee, ledgerClient, encoder, nodeClient, provisioner, log)
	if err != nil {
		return err
	}

	run := o.Start(ctx, upload.UploadRequest{Data: data, Owner: owner, Epochs: 3})
	for ev := range run.Events() {
		log.Info(ev.Status, "phase", ev.Phase)
	}
	result, err := run.Wait()

# Failures

Every run failure is an *UploadError naming the phase it failed in. Match the
cause with errors.Is against ErrInvalidRequest, ErrExecutionFailed,
ErrObjectNotFound, ErrQuorumNotReached, ErrDistributionTimeout or
ErrNotCertified.

When certification fails after a quorum confirmed, the error carries a
Checkpoint. Orchestrator.ResumeCertification retries only the certification
from it; the blob is not registered or distributed again.
*/
package upload
