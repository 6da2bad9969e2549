package ard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rkm/s1ard/internal/config"
	"github.com/rkm/s1ard/internal/download"
	"github.com/rkm/s1ard/internal/executor"
	"github.com/rkm/s1ard/internal/marker"
	"github.com/rkm/s1ard/internal/raster"
	"github.com/rkm/s1ard/internal/scene"
	"github.com/rkm/s1ard/internal/unit"
)

// processSLC runs the burst chain for one SLC unit. The burst is imported
// once and shared by the per-family sub-chains; each family writes its own
// marker, so after a crash only the unfinished families run again.
func (c *Chain) processSLC(ctx context.Context, u unit.WorkUnit, res *executor.Result) error {
	ard := &c.cfg.Processing.SingleARD
	prefix := fmt.Sprintf("%s_%s", u.Date, u.Key)

	outBS := filepath.Join(u.OutDir, prefix+"_bs")
	outLS := filepath.Join(u.OutDir, prefix+"_LS")
	outCoh := filepath.Join(u.OutDir, prefix+"_coh")
	outPol := filepath.Join(u.OutDir, prefix+"_pol")

	coherence := ard.Coherence && u.HasSlave()

	bsDone := marker.Done(marker.Path(u.OutDir, marker.Backscatter))
	polDone := marker.Done(marker.Path(u.OutDir, marker.Polarimetric))
	cohDone := marker.Done(marker.Path(u.OutDir, marker.Coherence))

	if ard.Backscatter && bsDone {
		res.Backscatter = outBS + ".dim"
		if ard.CreateLSMask && marker.Done(marker.Path(u.OutDir, marker.Layover)) {
			res.Layover = outLS + ".dim"
		}
	}
	if ard.HAAlpha && polDone {
		res.Polarimetric = outPol + ".dim"
	}
	if coherence && cohDone {
		res.Coherence = outCoh + ".dim"
	}

	needBS := ard.Backscatter && !bsDone
	needPol := ard.HAAlpha && !polDone
	needCoh := coherence && !cohDone
	if !needBS && !needPol && !needCoh {
		c.logger.Info("unit already processed", "unit", u.Key, "date", u.Date)
		return nil
	}

	if err := os.MkdirAll(u.OutDir, 0o755); err != nil {
		return fmt.Errorf("failed to create unit directory: %w", err)
	}
	temp, err := c.scratchDir(prefix)
	if err != nil {
		return err
	}
	defer os.RemoveAll(temp)

	master, err := scene.Parse(u.Scenes[0])
	if err != nil {
		return err
	}
	masterImport := filepath.Join(temp, prefix+"_import")
	if err := c.tk.BurstImport(ctx, download.ScenePath(c.cfg.DownloadDir, master),
		masterImport, c.errLog(u.OutDir, prefix+"_import"),
		u.Swath, u.BurstNr, ard.Polarisation); err != nil {
		return err
	}
	defer deleteDimap(masterImport)

	dem := ard.DEMForLatitude(u.CenterLat)

	if needPol {
		if err := c.polarimetricLayers(ctx, u, temp, prefix, masterImport, outPol, dem); err != nil {
			return err
		}
		res.Polarimetric = outPol + ".dim"
	}
	if needBS {
		lsPath, err := c.backscatterLayers(ctx, u, temp, prefix, masterImport, outBS, outLS, dem)
		if err != nil {
			return err
		}
		res.Backscatter = outBS + ".dim"
		res.Layover = lsPath
	}
	if needCoh {
		if err := c.coherenceLayers(ctx, u, temp, prefix, masterImport, outCoh, dem); err != nil {
			return err
		}
		res.Coherence = outCoh + ".dim"
	}
	return nil
}

// polarimetricLayers derives the dual-pol H-A-alpha decomposition and
// geocodes it.
func (c *Chain) polarimetricLayers(ctx context.Context, u unit.WorkUnit, temp, prefix, masterImport, outPol string, dem config.DEMParams) error {
	ard := &c.cfg.Processing.SingleARD

	decomposed := filepath.Join(temp, prefix+"_haa")
	if err := c.tk.HAAlpha(ctx, masterImport+".dim", decomposed,
		c.errLog(u.OutDir, prefix+"_haa"), ard.RemovePolSpeckle, ard.PolSpeckleFilter); err != nil {
		return err
	}

	geocoded := filepath.Join(temp, prefix+"_pol_geo")
	if err := c.tk.TerrainCorrection(ctx, decomposed+".dim", geocoded,
		c.errLog(u.OutDir, prefix+"_pol_geocoding"), ard.Resolution, dem); err != nil {
		return err
	}
	deleteDimap(decomposed)

	if err := moveDimap(geocoded, outPol); err != nil {
		return err
	}
	if err := raster.CheckDimap(outPol + ".dim"); err != nil {
		return err
	}
	return marker.WritePassed(marker.Path(u.OutDir, marker.Polarimetric))
}

// backscatterLayers calibrates the burst, applies the optional speckle and
// dB steps and geocodes the result. The layover/shadow mask is derived from
// the same pre-geocoding product.
func (c *Chain) backscatterLayers(ctx context.Context, u unit.WorkUnit, temp, prefix, masterImport, outBS, outLS string, dem config.DEMParams) (string, error) {
	ard := &c.cfg.Processing.SingleARD

	calibrated := filepath.Join(temp, prefix+"_cal")
	if err := c.tk.SLCCalibrate(ctx, masterImport+".dim", calibrated,
		c.errLog(u.OutDir, prefix+"_calibration"), ard); err != nil {
		return "", err
	}
	infile := calibrated

	if ard.RemoveSpeckle {
		filtered := filepath.Join(temp, prefix+"_spk")
		if err := c.tk.SpeckleFilter(ctx, infile+".dim", filtered,
			c.errLog(u.OutDir, prefix+"_speckle"), ard.SpeckleFilter); err != nil {
			return "", err
		}
		deleteDimap(infile)
		infile = filtered
	}

	var lsPath string
	if ard.CreateLSMask {
		lsTmp := filepath.Join(temp, prefix+"_ls")
		if err := c.tk.LSMask(ctx, infile+".dim", lsTmp,
			c.errLog(u.OutDir, prefix+"_ls_mask"), ard.Resolution, dem); err != nil {
			return "", err
		}
		if err := moveDimap(lsTmp, outLS); err != nil {
			return "", err
		}
		if err := marker.WritePassed(marker.Path(u.OutDir, marker.Layover)); err != nil {
			return "", err
		}
		lsPath = outLS + ".dim"
	}

	if ard.ToDB {
		scaled := filepath.Join(temp, prefix+"_db")
		if err := c.tk.LinearToDB(ctx, infile+".dim", scaled,
			c.errLog(u.OutDir, prefix+"_db")); err != nil {
			return "", err
		}
		deleteDimap(infile)
		infile = scaled
	}

	geocoded := filepath.Join(temp, prefix+"_bs_geo")
	if err := c.tk.TerrainCorrection(ctx, infile+".dim", geocoded,
		c.errLog(u.OutDir, prefix+"_bs_geocoding"), ard.Resolution, dem); err != nil {
		return "", err
	}
	deleteDimap(infile)

	if err := moveDimap(geocoded, outBS); err != nil {
		return "", err
	}
	if err := raster.CheckDimap(outBS + ".dim"); err != nil {
		return "", err
	}
	if err := marker.WritePassed(marker.Path(u.OutDir, marker.Backscatter)); err != nil {
		return "", err
	}
	return lsPath, nil
}

// coherenceLayers imports the burst of the following acquisition,
// co-registers it onto the master and estimates coherence over the pair.
func (c *Chain) coherenceLayers(ctx context.Context, u unit.WorkUnit, temp, prefix, masterImport, outCoh string, dem config.DEMParams) error {
	ard := &c.cfg.Processing.SingleARD

	slave, err := scene.Parse(u.SlaveScenes[0])
	if err != nil {
		return err
	}
	slavePrefix := fmt.Sprintf("%s_%s", u.SlaveDate, u.Key)
	slaveImport := filepath.Join(temp, slavePrefix+"_import")
	if err := c.tk.BurstImport(ctx, download.ScenePath(c.cfg.DownloadDir, slave),
		slaveImport, c.errLog(u.OutDir, slavePrefix+"_import"),
		u.Swath, u.BurstNr, ard.CoherenceBands); err != nil {
		return err
	}

	coregistered := filepath.Join(temp, prefix+"_coreg")
	if err := c.tk.Coregister(ctx, masterImport+".dim", slaveImport+".dim", coregistered,
		c.errLog(u.OutDir, prefix+"_coregistration"), dem); err != nil {
		return err
	}
	deleteDimap(slaveImport)

	estimated := filepath.Join(temp, prefix+"_c")
	if err := c.tk.Coherence(ctx, coregistered+".dim", estimated,
		c.errLog(u.OutDir, prefix+"_coherence"),
		ard.CohAzWindow, ard.CohRgWindow, ard.CoherenceBands); err != nil {
		return err
	}
	deleteDimap(coregistered)

	geocoded := filepath.Join(temp, prefix+"_coh_geo")
	if err := c.tk.TerrainCorrection(ctx, estimated+".dim", geocoded,
		c.errLog(u.OutDir, prefix+"_coh_geocoding"), ard.Resolution, dem); err != nil {
		return err
	}
	deleteDimap(estimated)

	if err := moveDimap(geocoded, outCoh); err != nil {
		return err
	}
	if err := raster.CheckDimap(outCoh + ".dim"); err != nil {
		return err
	}
	return marker.WritePassed(marker.Path(u.OutDir, marker.Coherence))
}
