package feed

import (
	"testing"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/mrevanzak/persepuran/internal/gapeka"
)

func samplePositions() []gapeka.ProjectedPosition {
	return []gapeka.ProjectedPosition{
		{
			TrainID: 20, Code: "KA20", Name: "Argo Parahyangan", StationCode: "BD",
			Position: gapeka.Coordinate{Lat: -6.5, Lng: 107.2}, Moving: true, BearingDeg: 135, SpeedKmh: 90,
		},
		{TrainID: 7, Code: "KA7", StationCode: "GMR", Position: gapeka.Coordinate{Lat: -6.1766, Lng: 106.8307}},
	}
}

func TestBuildVehiclePositions(t *testing.T) {
	at := time.Unix(1_735_700_000, 0)
	msg := BuildVehiclePositions(samplePositions(), at)

	assert.Equal(t, "2.0", msg.GetHeader().GetGtfsRealtimeVersion())
	assert.Equal(t, gtfsrtpb.FeedHeader_FULL_DATASET, msg.GetHeader().GetIncrementality())
	assert.Equal(t, uint64(1_735_700_000), msg.GetHeader().GetTimestamp())
	require.Len(t, msg.GetEntity(), 2)

	moving := msg.GetEntity()[0]
	assert.Equal(t, "20", moving.GetId())
	vp := moving.GetVehicle()
	assert.Equal(t, gtfsrtpb.VehiclePosition_IN_TRANSIT_TO, vp.GetCurrentStatus())
	assert.Equal(t, "BD", vp.GetStopId())
	assert.Equal(t, "KA20 Argo Parahyangan", vp.GetVehicle().GetLabel())
	assert.InDelta(t, -6.5, vp.GetPosition().GetLatitude(), 1e-5)
	assert.InDelta(t, 135, vp.GetPosition().GetBearing(), 1e-5)
	assert.InDelta(t, 25, vp.GetPosition().GetSpeed(), 1e-4)

	stopped := msg.GetEntity()[1].GetVehicle()
	assert.Equal(t, gtfsrtpb.VehiclePosition_STOPPED_AT, stopped.GetCurrentStatus())
	assert.Equal(t, "KA7", stopped.GetVehicle().GetLabel())
	assert.Zero(t, stopped.GetPosition().GetSpeed())
}

func TestBuildVehiclePositionsEmpty(t *testing.T) {
	msg := BuildVehiclePositions(nil, time.Unix(0, 0))
	assert.Empty(t, msg.GetEntity())
	assert.NotNil(t, msg.GetHeader())
}

func TestMarshal(t *testing.T) {
	msg := BuildVehiclePositions(samplePositions(), time.Unix(100, 0))

	b, ct, err := Marshal(msg, false)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeProtobuf, ct)
	var decoded gtfsrtpb.FeedMessage
	require.NoError(t, proto.Unmarshal(b, &decoded))
	assert.Len(t, decoded.GetEntity(), 2)

	b, ct, err = Marshal(msg, true)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJSON, ct)
	assert.Contains(t, string(b), `"gtfs_realtime_version"`)
	assert.Contains(t, string(b), `"IN_TRANSIT_TO"`)
}
