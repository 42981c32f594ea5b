// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

package provider_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tirr-c/tweet-broadcast/internal/provider"
)

var _ = Describe("Client.Retrieve", func() {
	It("decodes a single-tweet lookup", func() {
		rec, err := newRecorder("retrieve_single")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(rec.Stop)

		client := provider.NewWithTransport("test-token", rec)
		res, err := client.Retrieve(context.Background(), []string{"1234567890"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Data).To(HaveLen(1))
		Expect(res.Data[0].ID).To(Equal("1234567890"))
		Expect(res.Data[0].Text).To(Equal("hello from the cassette"))

		author, ok := res.Includes.GetUser("111")
		Expect(ok).To(BeTrue())
		Expect(author.Username).To(Equal("exampleuser"))
	})

	It("decodes a multi-ID lookup through the bulk endpoint", func() {
		rec, err := newRecorder("retrieve_bulk")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(rec.Stop)

		client := provider.NewWithTransport("test-token", rec)
		res, err := client.Retrieve(context.Background(), []string{"201", "202"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Data).To(HaveLen(2))

		ids := []string{res.Data[0].ID, res.Data[1].ID}
		Expect(ids).To(ConsistOf("201", "202"))
	})

	It("reports the empty bundle for no IDs without making a request", func() {
		client := provider.NewWithTransport("test-token", nil)
		res, err := client.Retrieve(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Data).To(BeEmpty())
	})
})
